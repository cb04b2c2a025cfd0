package testtools_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jamzercise/lidify-fork/internal/testtools"
)

func TestRandomTrack(t *testing.T) {
	N := 30
	for i := 0; i < N; i++ {
		track := testtools.Random{}.Track()

		_, err := uuid.Parse(track.ID)
		require.NoError(t, err, "track ID should be a UUID, got: %s", track.ID)
		require.NotEmpty(t, track.Artist)
		require.NotEmpty(t, track.Album)
		require.NotEmpty(t, track.Title)
		require.Contains(t, testtools.RandomArtists, track.Artist)
		require.Contains(t, testtools.RandomAlbums, track.Album)

		require.True(t, strings.HasSuffix(track.FilePath, ".wav"),
			"file path should end in .wav, got: %s", track.FilePath)
		require.False(t, strings.HasPrefix(track.FilePath, "/"),
			"file path must be relative, got: %s", track.FilePath)
		require.NotContains(t, track.FilePath, `\`)
		require.Len(t, strings.Split(track.FilePath, "/"), 3,
			"file path should be artist/album/title, got: %s", track.FilePath)
		require.Equal(t, strings.ToLower(track.FilePath), track.FilePath)
	}

	tracks := testtools.Random{}.Tracks(N)
	require.Len(t, tracks, N)
	seen := make(map[string]bool, N)
	for _, track := range tracks {
		require.False(t, seen[track.ID], "track IDs must be unique")
		seen[track.ID] = true
	}
}

func TestRandomJob(t *testing.T) {
	track := testtools.Random{}.Track()
	job := testtools.Random{}.Job(track)
	require.Equal(t, track.ID, job.TrackID)
	require.Equal(t, track.FilePath, job.FilePath)
}

func TestRandomFrequency(t *testing.T) {
	for i := 0; i < 30; i++ {
		freq := testtools.Random{}.Frequency()
		require.GreaterOrEqual(t, freq, 220.0)
		require.LessOrEqual(t, freq, 440.0)
	}
}

func TestWriteSineWAV(t *testing.T) {
	p := filepath.Join(t.TempDir(), "artist", "album", "tone.wav")
	require.NoError(t, testtools.WriteSineWAV(p, 440, 250*time.Millisecond))

	data, err := os.ReadFile(p)
	require.NoError(t, err)

	samples := 22050 / 4
	require.Len(t, data, 44+2*samples)

	require.Equal(t, "RIFF", string(data[0:4]))
	require.Equal(t, "WAVE", string(data[8:12]))
	require.Equal(t, "data", string(data[36:40]))
	require.Equal(t, uint32(36+2*samples), binary.LittleEndian.Uint32(data[4:8]))
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(data[22:24]), "channels")
	require.Equal(t, uint32(22050), binary.LittleEndian.Uint32(data[24:28]), "sample rate")
	require.Equal(t, uint32(2*samples), binary.LittleEndian.Uint32(data[40:44]), "data length")

	nonZero := false
	for off := 44; off < len(data); off += 2 {
		if binary.LittleEndian.Uint16(data[off:]) != 0 {
			nonZero = true
			break
		}
	}
	require.True(t, nonZero, "tone should contain non-silent samples")
}

func TestWriteSineWAVRejectsBadInput(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tone.wav")
	require.Error(t, testtools.WriteSineWAV(p, 0, time.Second))
	require.Error(t, testtools.WriteSineWAV(p, 440, 0))
	require.NoFileExists(t, p)
}
