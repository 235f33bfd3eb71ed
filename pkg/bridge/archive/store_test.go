package archive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnkleBreaker-Studio/unity-mcp-plugin-sub003/pkg/bridge/queue"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleResponse(id, sessionID string, completedAt time.Time) *queue.Response {
	return &queue.Response{
		ID:          id,
		SessionID:   sessionID,
		Kind:        queue.KindRead,
		Status:      queue.StatusCompleted,
		Body:        map[string]interface{}{"success": true, "result": "ok"},
		CompletedAt: completedAt,
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("", zerolog.Nop())
	assert.Error(t, err)
}

func TestSaveAndGet(t *testing.T) {
	s := openTestStore(t)

	orig := sampleResponse("req-1", "sess-1", time.Now())
	require.NoError(t, s.Save(orig))

	got, err := s.Get("req-1")
	require.NoError(t, err)
	assert.Equal(t, orig.ID, got.ID)
	assert.Equal(t, orig.SessionID, got.SessionID)
	assert.Equal(t, queue.StatusCompleted, got.Status)
	assert.Equal(t, true, got.Body["success"])
	assert.Equal(t, "ok", got.Body["result"])
}

func TestGet_Missing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSave_DuplicateKeepsFirst(t *testing.T) {
	s := openTestStore(t)

	first := sampleResponse("req-1", "sess-1", time.Now())
	require.NoError(t, s.Save(first))

	second := sampleResponse("req-1", "sess-1", time.Now())
	second.Body = map[string]interface{}{"success": false, "error": "rewrite attempt"}
	require.NoError(t, s.Save(second))

	got, err := s.Get("req-1")
	require.NoError(t, err)
	assert.Equal(t, true, got.Body["success"])
}

func TestBySession(t *testing.T) {
	s := openTestStore(t)

	base := time.Now()
	require.NoError(t, s.Save(sampleResponse("req-1", "sess-1", base.Add(-2*time.Minute))))
	require.NoError(t, s.Save(sampleResponse("req-2", "sess-1", base.Add(-time.Minute))))
	require.NoError(t, s.Save(sampleResponse("req-3", "sess-2", base)))

	got, err := s.BySession("sess-1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "req-2", got[0].ID)
	assert.Equal(t, "req-1", got[1].ID)

	limited, err := s.BySession("sess-1", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "req-2", limited[0].ID)
}

func TestTrim(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save(sampleResponse("req-1", "sess-1", time.Now())))

	// Nothing is old enough yet.
	n, err := s.Trim(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Trim(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.Get("req-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
