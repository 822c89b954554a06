package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"vigil/internal/core/ports"
	"vigil/pkg/optimize"

	"golang.org/x/sys/unix"
)

// MicConfig selects where analysis audio comes from: a command that writes
// s16le PCM to stdout, or a device/FIFO path. Device wins when both are set.
type MicConfig struct {
	Command    string
	Device     string
	MinLatency time.Duration
}

// MicFactory implements ports.AudioInputFactory.
type MicFactory struct {
	cfg MicConfig
}

func NewMicFactory(cfg MicConfig) *MicFactory {
	return &MicFactory{cfg: cfg}
}

func (f *MicFactory) HasPermission() bool {
	if f.cfg.Device != "" {
		return unix.Access(f.cfg.Device, unix.R_OK) == nil
	}
	return commandAvailable(f.cfg.Command)
}

// MinBufferSize is the byte size of MinLatency worth of PCM16 audio.
func (f *MicFactory) MinBufferSize(sampleRate, channels int) (int, error) {
	if sampleRate <= 0 || channels <= 0 {
		return 0, fmt.Errorf("unsupported format: %d Hz, %d channels", sampleRate, channels)
	}
	frames := int(int64(sampleRate) * int64(f.cfg.MinLatency) / int64(time.Second))
	return frames * channels * 2, nil
}

func (f *MicFactory) Open(ctx context.Context, cfg ports.AudioInputConfig) (ports.AudioInput, error) {
	if cfg.BufferBytes < 2 {
		return nil, errors.New("buffer must hold at least one sample")
	}

	var (
		rc  io.ReadCloser
		err error
	)
	if f.cfg.Device != "" {
		rc, err = os.Open(f.cfg.Device)
	} else {
		rc, err = startCommand(context.WithoutCancel(ctx), f.cfg.Command, map[string]string{
			"rate":     strconv.Itoa(cfg.SampleRate),
			"channels": strconv.Itoa(cfg.Channels),
		})
	}
	if err != nil {
		return nil, err
	}
	return newPCMInput(rc, cfg.BufferBytes), nil
}

// PCMInput decodes little-endian PCM16 from a byte stream.
type PCMInput struct {
	r      *bufio.Reader
	closer io.Closer
	pool   *optimize.BytePool
	once   sync.Once
}

func newPCMInput(rc io.ReadCloser, bufferBytes int) *PCMInput {
	return &PCMInput{
		r:      bufio.NewReaderSize(rc, bufferBytes),
		closer: rc,
		pool:   optimize.NewBytePool(bufferBytes),
	}
}

// Read blocks until at least one sample is available. It never splits a
// sample across calls.
func (in *PCMInput) Read(buf []int16) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	raw := in.pool.Get()
	defer in.pool.Put(raw)

	want := min(len(buf)*2, len(raw))
	want -= want % 2
	if want == 0 {
		want = 2
		raw = make([]byte, 2)
	}

	n, err := io.ReadAtLeast(in.r, raw[:want], 2)
	if n%2 == 1 {
		if _, err2 := io.ReadFull(in.r, raw[n:n+1]); err2 == nil {
			n++
		} else {
			n--
		}
	}
	for i := 0; i < n/2; i++ {
		buf[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	if n >= 2 {
		return n / 2, nil
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return 0, err
}

func (in *PCMInput) Close() error {
	var err error
	in.once.Do(func() { err = in.closer.Close() })
	return err
}
