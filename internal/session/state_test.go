package session

import "testing"

func TestNextClientState(t *testing.T) {
	cases := []struct {
		cur  ClientState
		kind RequestKind
		js   bool
		want ClientState
	}{
		{Unknown, PageLoad, true, Bootstrapping},
		{Unknown, PageLoad, false, NoJavaScript},
		{Unknown, RuntimeEvent, true, Incremental},
		{Bootstrapping, RuntimeEvent, true, Incremental},
		{Bootstrapping, FormPost, true, NoJavaScript},
		{Incremental, RuntimeEvent, true, Incremental},
		{Incremental, PageLoad, true, Bootstrapping},
		{NoJavaScript, PageLoad, true, NoJavaScript},
		{NoJavaScript, RuntimeEvent, true, NoJavaScript},
		{Disconnected, PageLoad, true, Disconnected},
	}
	for _, tc := range cases {
		if got := nextClientState(tc.cur, tc.kind, tc.js); got != tc.want {
			t.Fatalf("nextClientState(%s, %s, %t) = %s, want %s", tc.cur, tc.kind, tc.js, got, tc.want)
		}
	}
}
