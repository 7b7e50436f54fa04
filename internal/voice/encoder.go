package voice

import (
	"github.com/asticode/go-astiav"
	"github.com/cockroachdb/errors"
)

type opusPacketFunc func(pkt []byte) error

// encoder wraps a libopus codec context producing 20 ms Opus packets from
// interleaved s16le 48k stereo PCM.
type encoder struct {
	cc        *astiav.CodecContext
	frame     *astiav.Frame
	packet    *astiav.Packet
	channels  int
	frameSize int // samples per channel, 20 ms at 48 kHz
}

func newEncoder() (*encoder, error) {
	const (
		sampleRate = 48000
		channels   = 2
		frameSize  = 960
	)

	codec := astiav.FindEncoderByName("libopus")
	if codec == nil {
		return nil, errors.New("libopus encoder not found (check ffmpeg installation)")
	}

	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, errors.New("alloc codec context")
	}
	cc.SetSampleRate(sampleRate)
	cc.SetChannelLayout(astiav.ChannelLayoutStereo)
	cc.SetSampleFormat(astiav.SampleFormatS16)
	cc.SetBitRate(160_000)

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("frame_duration", "20", 0)
	_ = opts.Set("application", "audio", 0)

	if err := cc.Open(codec, opts); err != nil {
		cc.Free()
		return nil, errors.Wrap(err, "open opus encoder")
	}

	frame := astiav.AllocFrame()
	if frame == nil {
		cc.Free()
		return nil, errors.New("alloc frame")
	}
	frame.SetSampleRate(sampleRate)
	frame.SetChannelLayout(astiav.ChannelLayoutStereo)
	frame.SetSampleFormat(astiav.SampleFormatS16)
	frame.SetNbSamples(frameSize)
	if err := frame.AllocBuffer(0); err != nil {
		frame.Free()
		cc.Free()
		return nil, errors.Wrap(err, "alloc frame buffer")
	}

	pkt := astiav.AllocPacket()
	if pkt == nil {
		frame.Free()
		cc.Free()
		return nil, errors.New("alloc packet")
	}

	return &encoder{
		cc:        cc,
		frame:     frame,
		packet:    pkt,
		channels:  channels,
		frameSize: frameSize,
	}, nil
}

func (e *encoder) Close() {
	if e.packet != nil {
		e.packet.Free()
	}
	if e.frame != nil {
		e.frame.Free()
	}
	if e.cc != nil {
		e.cc.Free()
	}
}

// FrameBytes is the PCM input size for one 20 ms frame.
func (e *encoder) FrameBytes() int {
	return e.frameSize * e.channels * 2
}

// EncodeFrame expects exactly one 20 ms frame of interleaved s16le PCM and
// invokes onPacket for every Opus packet produced.
func (e *encoder) EncodeFrame(pcm []byte, onPacket opusPacketFunc) error {
	if len(pcm) != e.FrameBytes() {
		return errors.Newf("invalid PCM frame size: expected %d bytes, got %d", e.FrameBytes(), len(pcm))
	}

	if err := e.frame.Data().SetBytes(pcm, 0); err != nil {
		return errors.Wrap(err, "set frame data")
	}
	if err := e.cc.SendFrame(e.frame); err != nil {
		return errors.Wrap(err, "send frame")
	}

	return e.drain(onPacket)
}

// Flush drains any packets buffered inside the codec at end of stream.
func (e *encoder) Flush(onPacket opusPacketFunc) error {
	if err := e.cc.SendFrame(nil); err != nil {
		if astErr, ok := err.(astiav.Error); ok && astErr.Is(astiav.ErrEof) {
			return nil
		}
		return errors.Wrap(err, "send flush frame")
	}
	return e.drain(onPacket)
}

func (e *encoder) drain(onPacket opusPacketFunc) error {
	for {
		e.packet.Unref()
		if err := e.cc.ReceivePacket(e.packet); err != nil {
			if astErr, ok := err.(astiav.Error); ok && (astErr.Is(astiav.ErrEagain) || astErr.Is(astiav.ErrEof)) {
				return nil
			}
			return errors.Wrap(err, "receive opus packet")
		}
		if err := onPacket(e.packet.Data()); err != nil {
			return err
		}
	}
}
