package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wwwzy/EstateAgent/internal/storage"
)

// exerciseStore 对任意 Store 实现跑同一组行为断言。
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, "thread-a", []byte(`{"v":1}`)))
	require.NoError(t, s.Save(ctx, "thread-a", []byte(`{"v":2}`)))
	require.NoError(t, s.Save(ctx, "thread-b", []byte(`{"v":9}`)))

	got, err := s.Load(ctx, "thread-a")
	require.NoError(t, err)
	require.JSONEq(t, `{"v":2}`, string(got))

	got, err = s.Load(ctx, "thread-b")
	require.NoError(t, err)
	require.JSONEq(t, `{"v":9}`, string(got))

	require.NoError(t, s.Delete(ctx, "thread-a"))
	_, err = s.Load(ctx, "thread-a")
	require.ErrorIs(t, err, ErrNotFound)

	// 删除不存在的线程不是错误
	require.NoError(t, s.Delete(ctx, "thread-a"))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreCopiesBuffers(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	buf := []byte(`{"v":1}`)
	require.NoError(t, s.Save(ctx, "t", buf))
	buf[5] = '7'

	got, err := s.Load(ctx, "t")
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(got))
}

func TestMemoryStoreConcurrentThreads(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("thread-%d", i)
			for j := 0; j < 20; j++ {
				_ = s.Save(ctx, id, []byte(fmt.Sprintf(`{"i":%d,"j":%d}`, i, j)))
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 16, s.Len())
	got, err := s.Load(ctx, "thread-3")
	require.NoError(t, err)
	require.JSONEq(t, `{"i":3,"j":19}`, string(got))
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "cp.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	s, err := NewSQLiteStore(st)
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("ESTATEAGENT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ESTATEAGENT_TEST_POSTGRES_DSN 未设置，跳过 Postgres checkpoint 测试")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Delete(ctx, "thread-b")
		_ = s.Close()
	})
	exerciseStore(t, s)
}
