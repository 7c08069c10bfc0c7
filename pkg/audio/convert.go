package audio

// Convert reshapes 16-bit PCM from one format to another. Multi-channel input
// is down-mixed before resampling so the interpolation runs on a single
// channel. Only mono and stereo targets are supported; other targets return pcm
// unchanged.
func Convert(pcm []byte, from, to Format) []byte {
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if from == to {
		return pcm
	}
	if from.Channels == 2 && to.Channels == 1 {
		pcm = StereoToMono(pcm)
		from.Channels = 1
	}
	if from.Channels != 1 {
		return pcm
	}
	pcm = ResampleMono16(pcm, from.SampleRate, to.SampleRate)
	if to.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return pcm
}

// ToSpeech converts a PCM-bearing clip to headerless [SpeechFormat] PCM.
// ok is false for compressed containers.
func (c Clip) ToSpeech() (pcm []byte, ok bool) {
	raw, f, ok := c.PCM()
	if !ok {
		return nil, false
	}
	return Convert(raw, f, SpeechFormat), true
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes), clamping to int16.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := min(max((l+r)/2, -32768), 32767)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. Equal or invalid rates return the input unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := int16(pcm[idx*2]) | int16(pcm[idx*2+1])<<8
		s1 := s0
		if idx+1 < srcSamples {
			s1 = int16(pcm[(idx+1)*2]) | int16(pcm[(idx+1)*2+1])<<8
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
