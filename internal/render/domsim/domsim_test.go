package domsim

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wtcore/internal/render"
)

func page() *render.Element {
	return &render.Element{ID: "root", Tag: "div", Children: []*render.Element{
		{ID: "a", Tag: "div", Children: []*render.Element{{ID: "x", Tag: "span", Text: "hi"}}},
		{ID: "b", Tag: "div"},
	}}
}

func TestCreateRejectsIDOnPage(t *testing.T) {
	d := New(page())
	err := d.Apply([]render.Op{{
		Kind: render.CreateElement, Target: "x", Parent: "b",
		Element: &render.Element{ID: "x", Tag: "span"},
	}})
	assert.ErrorIs(t, err, ErrDuplicateID)

	// nested ids count too
	err = d.Apply([]render.Op{{
		Kind: render.CreateElement, Target: "n", Parent: "b",
		Element: &render.Element{ID: "n", Tag: "div", Children: []*render.Element{{ID: "a", Tag: "div"}}},
	}})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestReplaceRejectsIDHeldElsewhere(t *testing.T) {
	d := New(page())
	err := d.Apply([]render.Op{{
		Kind: render.ReplaceContents, Target: "b",
		Element: &render.Element{ID: "b", Tag: "div", Children: []*render.Element{{ID: "x", Tag: "span"}}},
	}})
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestReplaceMayReuseOwnChildren(t *testing.T) {
	d := New(page())
	require.NoError(t, d.Apply([]render.Op{{
		Kind: render.ReplaceContents, Target: "a",
		Element: &render.Element{ID: "a", Tag: "div", Children: []*render.Element{{ID: "x", Tag: "span", Text: "again"}}},
	}}))
	assert.True(t, strings.Contains(d.Canonical(), `"again"`), d.Canonical())
}

func TestRemoveThenCreate(t *testing.T) {
	d := New(page())
	require.NoError(t, d.Apply([]render.Op{
		{Kind: render.RemoveElement, Target: "x"},
		{Kind: render.CreateElement, Target: "x", Parent: "b", Element: &render.Element{ID: "x", Tag: "span"}},
		{Kind: render.MoveElement, Target: "b", Parent: "root"},
	}))
	want := New(&render.Element{ID: "root", Tag: "div", Children: []*render.Element{
		{ID: "b", Tag: "div", Children: []*render.Element{{ID: "x", Tag: "span"}}},
		{ID: "a", Tag: "div"},
	}})
	assert.Equal(t, want.Canonical(), d.Canonical())
}
