package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/folio/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDirSourceRoot(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "book")
	require.NoError(t, os.Mkdir(inside, 0o755))
	writeFile(t, inside, "a.png", []byte("x"))

	src := LocalDirSource{Root: root}
	names, err := src.List(context.Background(), Request{SourceType: domain.SourceTypeLocalDir, InputPath: inside})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png"}, names)

	_, err = src.List(context.Background(), Request{SourceType: domain.SourceTypeLocalDir, InputPath: t.TempDir()})
	require.ErrorIs(t, err, domain.ErrPathOutsideRoot)
}

func TestLocalFileSinkRoot(t *testing.T) {
	root := t.TempDir()
	sink := LocalFileSink{Root: root}

	inside := filepath.Join(root, "out.pdf")
	location, err := sink.Write(context.Background(), Request{OutputPath: inside}, []byte("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, inside, location)

	outside := filepath.Join(t.TempDir(), "out.pdf")
	_, err = sink.Write(context.Background(), Request{OutputPath: outside}, []byte("%PDF"))
	require.ErrorIs(t, err, domain.ErrPathOutsideRoot)
	_, statErr := os.Stat(outside)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLocalFileSinkWithoutRootWritesAnywhere(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.pdf")
	_, err := LocalFileSink{}.Write(context.Background(), Request{OutputPath: out}, []byte("%PDF"))
	require.NoError(t, err)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)
}
