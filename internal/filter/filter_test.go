package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyChainKeepsAll(t *testing.T) {
	c := NewChain()
	assert.True(t, c.Empty())
	assert.True(t, c.Match("c2pFull.0.tch", 1024))

	var nilChain *Chain
	assert.True(t, nilChain.Empty())
	assert.True(t, nilChain.Match("anything", 0))
}

func TestExcludeGlob(t *testing.T) {
	c := NewChain()
	require.NoError(t, c.AddExclude("*.large.*"))

	assert.False(t, c.Match("c2pFull.0.tch.large.ab12", 100))
	assert.True(t, c.Match("c2pFull.0.tch", 100))
}

func TestMatchUsesBaseName(t *testing.T) {
	c := NewChain()
	require.NoError(t, c.AddExclude("blob_*"))

	assert.False(t, c.Match("/data/blob/blob_3.bin", 10))
	assert.True(t, c.Match("/data/blob_dir/commit_3.tch", 10))
}

func TestFirstRuleWins(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Chain) error
		file  string
		want  bool
	}{
		{
			name: "include before exclude",
			setup: func(c *Chain) error {
				if err := c.AddInclude("commit_0.tch"); err != nil {
					return err
				}
				return c.AddExclude("commit_*")
			},
			file: "commit_0.tch",
			want: true,
		},
		{
			name: "exclude before include",
			setup: func(c *Chain) error {
				if err := c.AddExclude("commit_*"); err != nil {
					return err
				}
				return c.AddInclude("commit_0.tch")
			},
			file: "commit_0.tch",
			want: false,
		},
		{
			name: "unmatched is kept",
			setup: func(c *Chain) error {
				return c.AddExclude("tree_*")
			},
			file: "commit_0.tch",
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChain()
			require.NoError(t, tt.setup(c))
			assert.Equal(t, tt.want, c.Match(tt.file, 1))
		})
	}
}

func TestSizeBounds(t *testing.T) {
	c := NewChain()
	c.SetMinSize(100)
	c.SetMaxSize(1000)
	assert.False(t, c.Empty())

	assert.False(t, c.Match("a", 99))
	assert.True(t, c.Match("a", 100))
	assert.True(t, c.Match("a", 1000))
	assert.False(t, c.Match("a", 1001))
}

func TestBadPattern(t *testing.T) {
	c := NewChain()
	assert.Error(t, c.AddExclude("[unclosed"))
	assert.True(t, c.Empty())
}
