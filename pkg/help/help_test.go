package help

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrohde/dplang/pkg/evaluator"
	"github.com/thomasrohde/dplang/pkg/stdlib"
)

func TestQUICKREFListsTopics(t *testing.T) {
	require.NotEmpty(t, QUICKREF)
	for _, topic := range TopicList {
		assert.Contains(t, QUICKREF, topic)
	}
}

func TestTopicListMatchesTopics(t *testing.T) {
	assert.Len(t, Topics, len(TopicList))
	for _, name := range TopicList {
		content, ok := Topics[name]
		require.True(t, ok, "TopicList entry %q not in Topics", name)
		assert.NotEmpty(t, content)
	}
}

func TestMatchTopicExact(t *testing.T) {
	for _, topic := range TopicList {
		name, content, err := MatchTopic(topic)
		require.NoError(t, err)
		assert.Equal(t, topic, name)
		assert.Equal(t, Topics[topic], content)
	}
}

func TestMatchTopicPrefix(t *testing.T) {
	name, _, err := MatchTopic("diag")
	require.NoError(t, err)
	assert.Equal(t, "diagnostics", name)

	name, _, err = MatchTopic("EX")
	require.NoError(t, err)
	assert.Equal(t, "examples", name)
}

func TestMatchTopicErrors(t *testing.T) {
	_, _, err := MatchTopic("nonexistent")
	require.Error(t, err)

	_, _, err = MatchTopic("histroy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did you mean 'history'")

	// "s" is a prefix of both syntax and stdlib.
	_, _, err = MatchTopic("s")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ambiguous")

	_, _, err = MatchTopic("")
	require.Error(t, err)
}

func TestStdlibIndex(t *testing.T) {
	idx := StdlibIndex()
	total := len(stdlib.Default().Names()) + len(evaluator.IntrinsicNames())
	assert.Contains(t, idx, fmt.Sprintf("Total: %d functions", total))
	for _, name := range []string{"SMA", "coalesce", "map", "window", "print"} {
		assert.Contains(t, idx, name)
	}
}

// The stdlib topic groups every builtin by hand; keep it complete.
func TestStdlibTopicCoversRegistry(t *testing.T) {
	words := make(map[string]bool)
	for _, w := range strings.Fields(Topics["stdlib"]) {
		words[w] = true
	}
	for _, name := range append(stdlib.Default().Names(), evaluator.IntrinsicNames()...) {
		assert.True(t, words[name], "stdlib topic does not mention %s", name)
	}
}
