package audio

import "testing"

func TestULawRoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		u := byte(i)
		s := ulawToLinear(u)
		if s == 0 {
			// 0x7F and 0xFF both decode to zero
			continue
		}
		if got := linearToULaw(s); got != u {
			t.Fatalf("code %#02x -> %d -> %#02x", u, s, got)
		}
	}
}

func TestALawRoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		a := byte(i)
		s := alawToLinear(a)
		if got := linearToALaw(s); got != a {
			t.Fatalf("code %#02x -> %d -> %#02x", a, s, got)
		}
	}
}

func TestG711Extremes(t *testing.T) {
	if v := ulawToLinear(linearToULaw(32767)); v < 32000 {
		t.Fatalf("ulaw clip decoded to %d", v)
	}
	if v := ulawToLinear(linearToULaw(-32768)); v > -32000 {
		t.Fatalf("ulaw negative clip decoded to %d", v)
	}
	if v := alawToLinear(linearToALaw(32767)); v < 32000 {
		t.Fatalf("alaw clip decoded to %d", v)
	}
	if v := alawToLinear(linearToALaw(-32768)); v > -32000 {
		t.Fatalf("alaw negative clip decoded to %d", v)
	}
}
