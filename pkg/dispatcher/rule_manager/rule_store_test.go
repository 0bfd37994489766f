package rule_manager

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memorySource struct {
	mu   sync.Mutex
	data []byte
	err  error
}

func (s *memorySource) Name() string {
	return "memory"
}

func (s *memorySource) Load() ([]byte, error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.data, s.err
}

func (s *memorySource) set(data string, err error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = []byte(data)
	s.err = err
}

func TestRuleStoreEmptyBeforeLoad(t *testing.T) {

	store := NewRuleStore(&memorySource{})

	rs := store.Current()
	require.NotNil(t, rs)
	assert.Equal(t, 0, rs.Len())
	assert.True(t, rs.StopOnFirstAction)
	assert.False(t, store.Loaded())
}

func TestRuleStoreReload(t *testing.T) {

	source := &memorySource{}
	store := NewRuleStore(source, WithLogger(zap.NewExample()))

	source.set(`{"rules": [{"name": "A", "pattern": "a"}]}`, nil)
	require.NoError(t, store.Reload())
	assert.True(t, store.Loaded())
	assert.NotNil(t, store.Current().Get("A"))

	source.set(`{"rules": [{"name": "B", "pattern": "b"}]}`, nil)
	require.NoError(t, store.Reload())
	assert.Nil(t, store.Current().Get("A"))
	assert.NotNil(t, store.Current().Get("B"))
}

func TestRuleStoreRetainsLastGoodSet(t *testing.T) {

	source := &memorySource{}
	store := NewRuleStore(source, WithLogger(zap.NewNop()))

	source.set(`{"rules": [{"name": "A", "pattern": "a"}]}`, nil)
	require.NoError(t, store.Reload())
	before := store.Current()

	source.set(`{"rules": [{"name": "B", "pattern": "(" }]}`, nil)
	err := store.Reload()
	require.Error(t, err)

	var perr *RuleParseError
	assert.True(t, errors.As(err, &perr))
	assert.Equal(t, "memory", perr.Source)
	assert.Same(t, before, store.Current())

	source.set("", errors.New("permission denied"))
	err = store.Reload()
	assert.True(t, errors.As(err, &perr))
	assert.Same(t, before, store.Current())

	// Evaluation keeps working against the retained set
	events := NewEngine().Evaluate("f.log", "a", store.Current(), time.Now())
	assert.Len(t, events, 1)
}
