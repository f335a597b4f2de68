package intercept

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"
)

func TestDefaultExclusionFilter(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"java/lang/String", true},
		{"java", true},
		{"javax/swing/JFrame", true},
		{"com/sun/crypto/Provider", true},
		{"sun/misc/Unsafe", true},
		{"org/w3c/dom/Node", true},
		{"org/xml/sax/Parser", true},
		{"com/sunny/App", false},
		{"com/example/App", false},
		{"org/example/App", false},
		{"javafx/App", false},
		{"Plain", false},
		{"fixture/NativeData", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultExclusionFilter.Matches(tt.name))
		})
	}
}

func TestExclusion(t *testing.T) {
	e := NewExclusion(ContainsFilter("Generated"))

	assert.True(t, e.Matches(""), "the empty name is always excluded")
	assert.True(t, e.Matches("java/util/List"))
	assert.True(t, e.Matches("app/GeneratedProxy"))
	assert.False(t, e.Matches("app/Service"))

	e.Add(FilterFunc(func(name string) bool { return name == "app/Service" }))
	assert.True(t, e.Matches("app/Service"))
	assert.True(t, e.Matches("app/GeneratedProxy"), "adding filters never narrows the set")
	assert.False(t, e.Matches("app/Other"))
}

func TestCompoundFilter(t *testing.T) {
	f := CompoundFilter{nil, ContainsFilter("", "Mock"), ContainsFilter("$$")}
	assert.True(t, f.Matches("app/MockClock"))
	assert.True(t, f.Matches("app/Service$$Lambda"))
	assert.False(t, f.Matches("app/Service"))
	assert.False(t, CompoundFilter(nil).Matches("app/Service"))
}

func TestExclusionConcurrentAdd(t *testing.T) {
	e := NewExclusion()
	var g errgroup.Group
	for i := 0; i < 32; i++ {
		name := fmt.Sprintf("app/Excluded%02d", i)
		g.Go(func() error {
			e.Add(ContainsFilter(name))
			if !e.Matches(name) {
				return fmt.Errorf("%s not excluded after Add", name)
			}
			return nil
		})
	}
	assert.NoError(t, g.Wait())
	for i := 0; i < 32; i++ {
		assert.True(t, e.Matches(fmt.Sprintf("app/Excluded%02d", i)))
	}
}
