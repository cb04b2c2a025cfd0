// Package testtools generates synthetic library data for development:
// track metadata, matching analysis jobs, and small playable WAV files
// so the full analysis path can run without a real music collection.
package testtools

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jamzercise/lidify-fork/internal/workers"
)

type Random struct{}

var RandomArtists = []string{
	"Glass Harbor",
	"Velvet Antenna",
	"The Midnight Cartographers",
	"Paper Satellites",
	"Iron Lullaby",
	"Neon Orchard",
	"Quiet Machinery",
	"The Hollow Choir",
}

var RandomAlbums = []string{
	"Field Recordings",
	"Night Drives",
	"Low Light",
	"Interstate",
	"Analog Hearts",
	"Transmission Lost",
}

var (
	titleMoods = []string{
		"Fading", "Electric", "Silent", "Golden",
		"Restless", "Hollow", "Burning", "Distant",
	}
	titleSubjects = []string{
		"Horizon", "Signal", "Tide", "Parade",
		"Echo", "Avenue", "Satellite", "Winter",
	}
)

// Track mirrors the columns the library application keeps for a track,
// with FilePath relative to the music root and forward-slashed.
type Track struct {
	ID       string
	Artist   string
	Album    string
	Title    string
	FilePath string
}

func (r Random) TrackID() string {
	return uuid.NewString()
}

func (r Random) Artist() string {
	return RandomArtists[rand.IntN(len(RandomArtists))]
}

func (r Random) Album() string {
	return RandomAlbums[rand.IntN(len(RandomAlbums))]
}

func (r Random) Title() string {
	return titleMoods[rand.IntN(len(titleMoods))] + " " + titleSubjects[rand.IntN(len(titleSubjects))]
}

func (r Random) Track() Track {
	artist := r.Artist()
	album := r.Album()
	title := r.Title()
	return Track{
		ID:       r.TrackID(),
		Artist:   artist,
		Album:    album,
		Title:    title,
		FilePath: path.Join(slug(artist), slug(album), slug(title)+".wav"),
	}
}

func (r Random) Tracks(n int) []Track {
	tracks := make([]Track, n)
	for i := range tracks {
		tracks[i] = r.Track()
	}
	return tracks
}

// Job builds the queue message the analyzer expects for a track.
func (r Random) Job(track Track) workers.AnalysisJob {
	return workers.AnalysisJob{
		TrackID:  track.ID,
		FilePath: track.FilePath,
	}
}

// noteFrequencies is an A-minor pentatonic octave. Seeded files stay
// listenable when debugging by ear.
var noteFrequencies = []float64{220.00, 261.63, 293.66, 329.63, 392.00, 440.00}

func (r Random) Frequency() float64 {
	return noteFrequencies[rand.IntN(len(noteFrequencies))]
}

const (
	wavSampleRate = 22050
	wavHeaderLen  = 44
)

// WriteSineWAV writes a mono 16-bit PCM sine tone to p, creating parent
// directories as needed.
func WriteSineWAV(p string, freq float64, dur time.Duration) error {
	if freq <= 0 || dur <= 0 {
		return fmt.Errorf("invalid tone: freq=%f dur=%s", freq, dur)
	}

	samples := int(float64(wavSampleRate) * dur.Seconds())
	data := make([]byte, wavHeaderLen+2*samples)

	copy(data[0:4], "RIFF")
	binary.LittleEndian.PutUint32(data[4:8], uint32(36+2*samples))
	copy(data[8:12], "WAVE")
	copy(data[12:16], "fmt ")
	binary.LittleEndian.PutUint32(data[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(data[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(data[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(data[24:28], wavSampleRate)
	binary.LittleEndian.PutUint32(data[28:32], wavSampleRate*2) // byte rate
	binary.LittleEndian.PutUint16(data[32:34], 2)               // block align
	binary.LittleEndian.PutUint16(data[34:36], 16)              // bits per sample
	copy(data[36:40], "data")
	binary.LittleEndian.PutUint32(data[40:44], uint32(2*samples))

	for i := 0; i < samples; i++ {
		v := math.Sin(2 * math.Pi * freq * float64(i) / wavSampleRate)
		sample := int16(v * 0.6 * math.MaxInt16)
		binary.LittleEndian.PutUint16(data[wavHeaderLen+2*i:], uint16(sample))
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func slug(s string) string {
	s = strings.ToLower(s)
	s = strings.TrimPrefix(s, "the ")
	return strings.ReplaceAll(s, " ", "-")
}
