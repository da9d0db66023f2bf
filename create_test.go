package fthdr_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tokufiles/fthdr"
)

func Test_CreateFile_Writes_Agreeing_Header_Slots_At_Checkpoint_Zero(t *testing.T) {
	fd := &memFile{buf: make([]byte, 2*fthdr.HeaderReserve)}

	opts := fthdr.CreateOpts{
		NodeSize:         4 * 1024 * 1024,
		BasementNodeSize: 128 * 1024,
		BuildID:          0x1000,
		TimeOfCreation:   1700000000,
	}
	serialize := func(h *fthdr.Header) ([]byte, int64, int64, error) {
		return []byte("initial-translation"), 4096, 19, nil
	}
	descriptorPayload := []byte("fresh table descriptor")

	h, err := fthdr.CreateFile(fd, opts, serialize, descriptorPayload, 1<<20)
	require.NoError(t, err)
	require.Equal(t, uint64(0), h.CheckpointCount)

	a := &fthdr.Arbiter{}
	buf, err := a.Select(bytes.NewReader(fd.buf), fthdr.LSN(1000))
	require.NoError(t, err)

	ctx := &fthdr.DecodeContext{
		FD:              bytes.NewReader(fd.buf),
		LoadTranslation: fthdr.NewFlatTranslationLoader(1<<20, int64(len(fthdr.EncodeDescriptor(descriptorPayload)))),
	}
	got, err := fthdr.Decode(buf, ctx)
	require.NoError(t, err)
	require.Equal(t, opts.NodeSize, got.NodeSize)
	require.Equal(t, opts.BasementNodeSize, got.BasementNodeSize)
	require.Equal(t, descriptorPayload, got.Descriptor)
}
