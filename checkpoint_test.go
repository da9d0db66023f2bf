package fthdr_test

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tokufiles/fthdr"
)

func Test_Checkpoint_Writes_Translation_Then_Header_At_Parity_Slot(t *testing.T) {
	fd := &memFile{buf: make([]byte, 2*fthdr.HeaderReserve)}

	var writeOrder []string
	cw := &fthdr.CheckpointWriter{
		PwriteMu: &sync.Mutex{},
		BuildID:  1,
		SerializeTranslation: func(h *fthdr.Header) ([]byte, int64, int64, error) {
			writeOrder = append(writeOrder, "translation")
			return []byte("translation-bytes"), 1 << 20, 17, nil
		},
	}

	h := newTestHeader()
	h.CheckpointCount = 4 // even -> slot 1 (offset HeaderReserve)
	snapshot := h.Clone()
	snapshot.Type = fthdr.TypeCheckpointInProgress

	require.NoError(t, cw.Checkpoint(fd, snapshot))
	require.Equal(t, []string{"translation"}, writeOrder)

	got, err := fthdr.Decode(fd.buf[fthdr.HeaderReserve:fthdr.HeaderReserve+177], nil)
	require.NoError(t, err)
	require.Equal(t, uint64(4), got.CheckpointCount)
	require.Equal(t, int64(1<<20), got.TranslationAddress)

	require.Equal(t, []byte("translation-bytes"), fd.buf[1<<20:1<<20+17])
}

func Test_Checkpoint_Alternates_Slots_By_Parity(t *testing.T) {
	fd := &memFile{buf: make([]byte, 2*fthdr.HeaderReserve)}
	cw := &fthdr.CheckpointWriter{
		PwriteMu: &sync.Mutex{},
		BuildID:  1,
		SerializeTranslation: func(h *fthdr.Header) ([]byte, int64, int64, error) {
			return []byte("t"), 1 << 21, 1, nil
		},
	}

	h := newTestHeader()
	h.CheckpointCount = 1 // odd -> slot 0 (offset 0)
	snapshot := h.Clone()
	snapshot.Type = fthdr.TypeCheckpointInProgress
	require.NoError(t, cw.Checkpoint(fd, snapshot))

	require.True(t, bytes.Equal(fd.buf[fthdr.HeaderReserve:fthdr.HeaderReserve+8], make([]byte, 8)), "slot 1 must remain untouched")

	got, err := fthdr.Decode(fd.buf[:177], nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.CheckpointCount)
}

func Test_Checkpoint_Rejects_Non_InProgress_Header(t *testing.T) {
	fd := &memFile{buf: make([]byte, 2*fthdr.HeaderReserve)}
	cw := &fthdr.CheckpointWriter{PwriteMu: &sync.Mutex{}}

	h := newTestHeader() // Type defaults to TypeCurrent
	err := cw.Checkpoint(fd, h)
	require.Error(t, err)
}

func Test_Checkpoint_Poisons_Header_On_Translation_Failure(t *testing.T) {
	fd := &memFile{buf: make([]byte, 2*fthdr.HeaderReserve)}
	cw := &fthdr.CheckpointWriter{
		PwriteMu: &sync.Mutex{},
		SerializeTranslation: func(h *fthdr.Header) ([]byte, int64, int64, error) {
			return nil, 0, 0, bytes.ErrTooLarge
		},
	}

	h := newTestHeader()
	h.Type = fthdr.TypeCheckpointInProgress
	err := cw.Checkpoint(fd, h)
	require.Error(t, err)
	require.True(t, h.Poisoned())
}

func Test_Checkpoint_ShortCircuits_On_Already_Poisoned_Header(t *testing.T) {
	fd := &memFile{buf: make([]byte, 2*fthdr.HeaderReserve)}
	cw := &fthdr.CheckpointWriter{PwriteMu: &sync.Mutex{}}

	h := newTestHeader()
	h.Type = fthdr.TypeCheckpointInProgress
	h.Panic = bytes.ErrTooLarge

	err := cw.Checkpoint(fd, h)
	require.Error(t, err)
}

func Test_CacheFileSync_Is_Used_In_Place_Of_Raw_Fsync_When_Set(t *testing.T) {
	fd := &memFile{buf: make([]byte, 2*fthdr.HeaderReserve)}
	called := false
	cw := &fthdr.CheckpointWriter{
		PwriteMu: &sync.Mutex{},
		SerializeTranslation: func(h *fthdr.Header) ([]byte, int64, int64, error) {
			return []byte("x"), 1 << 20, 1, nil
		},
		CacheFileSync: func() error {
			called = true
			return nil
		},
	}
	h := newTestHeader()
	h.Type = fthdr.TypeCheckpointInProgress
	require.NoError(t, cw.Checkpoint(fd, h))
	require.True(t, called)
}
