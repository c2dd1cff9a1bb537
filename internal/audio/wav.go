package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DecodeWAV parses a RIFF/WAVE file containing 16-bit PCM and returns a
// normalized mono Buffer. Multi-channel audio is averaged down to mono.
func DecodeWAV(data []byte) (*Buffer, error) {
	if len(data) < 44 {
		return nil, fmt.Errorf("wav data too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	var (
		sampleRate    int
		numChannels   int
		bitsPerSample int
		pcmData       []byte
		haveFmt       bool
	)

	// Walk the chunk list; files in the wild carry LIST/fact chunks
	// between fmt and data.
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d bytes", chunkSize)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return nil, fmt.Errorf("unsupported audio format %d (PCM only)", audioFormat)
			}
			numChannels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcmData = data[body : body+chunkSize]
		}

		// Chunks are word-aligned.
		pos = body + chunkSize
		if chunkSize%2 == 1 {
			pos++
		}
	}

	if !haveFmt {
		return nil, fmt.Errorf("missing fmt chunk")
	}
	if pcmData == nil {
		return nil, fmt.Errorf("missing data chunk")
	}
	if bitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d (16-bit PCM only)", bitsPerSample)
	}
	if numChannels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", numChannels)
	}

	frameCount := len(pcmData) / (2 * numChannels)
	samples := make([]float64, frameCount)
	for i := 0; i < frameCount; i++ {
		var sum float64
		for ch := 0; ch < numChannels; ch++ {
			off := (i*numChannels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(pcmData[off : off+2]))
			sum += float64(s) / 32768.0
		}
		samples[i] = sum / float64(numChannels)
	}

	return &Buffer{Samples: samples, SampleRate: sampleRate}, nil
}

// EncodeWAV writes the buffer out as a mono 16-bit PCM RIFF/WAVE file.
func EncodeWAV(b *Buffer) []byte {
	pcm := b.ToPCM16()
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	chunkSizePos := buf.Len()
	binary.Write(buf, binary.LittleEndian, uint32(0))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(b.SampleRate))
	byteRate := uint32(b.SampleRate * 2)
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, uint16(2))  // block align
	binary.Write(buf, binary.LittleEndian, uint16(16)) // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)*2))
	for _, sample := range pcm {
		binary.Write(buf, binary.LittleEndian, sample)
	}

	wavData := buf.Bytes()
	binary.LittleEndian.PutUint32(wavData[chunkSizePos:chunkSizePos+4], uint32(len(wavData)-8))
	return wavData
}
