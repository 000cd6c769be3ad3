package audio

const (
	ulawBias = 0x84
	ulawClip = 32635
)

var alawSegEnd = [8]int{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

func ulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exp := (u >> 4) & 0x07
	mant := u & 0x0F
	value := (int(mant) << 3) + ulawBias
	value <<= uint(exp)
	value -= ulawBias
	if sign != 0 {
		return int16(-value)
	}
	return int16(value)
}

func linearToULaw(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias
	exp := 7
	for mask := 0x4000; s&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := (s >> (uint(exp) + 3)) & 0x0F
	return ^byte(sign | exp<<4 | mant)
}

func alawToLinear(a byte) int16 {
	a ^= 0x55
	sign := a & 0x80
	exp := (a >> 4) & 0x07
	mant := a & 0x0F
	var value int
	if exp != 0 {
		value = (int(mant)<<4 + 0x108) << (exp - 1)
	} else {
		value = (int(mant) << 4) + 8
	}
	if sign != 0 {
		return int16(value)
	}
	return int16(-value)
}

func linearToALaw(sample int16) byte {
	pcm := int(sample) >> 3
	mask := byte(0xD5)
	if pcm < 0 {
		mask = 0x55
		pcm = -pcm - 1
	}
	seg := 0
	for seg < len(alawSegEnd) && pcm > alawSegEnd[seg] {
		seg++
	}
	if seg >= len(alawSegEnd) {
		return 0x7F ^ mask
	}
	aval := byte(seg << 4)
	if seg < 2 {
		aval |= byte(pcm>>1) & 0x0F
	} else {
		aval |= byte(pcm>>uint(seg)) & 0x0F
	}
	return aval ^ mask
}
