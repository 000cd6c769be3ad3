package tts

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"

	"github.com/yoockh/yoocall/internal/audio"
)

type GoogleTTS struct {
	c *texttospeech.Client

	SampleRateHz int32
	Voice        string
}

func NewGoogleTTS(ctx context.Context, sampleRate int, voice, credentialsFile string) (*GoogleTTS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	c, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GoogleTTS{c: c, SampleRateHz: int32(sampleRate), Voice: voice}, nil
}

func (g *GoogleTTS) Close() error { return g.c.Close() }

func (g *GoogleTTS) SampleRate() int { return int(g.SampleRateHz) }

// Synthesize requests LINEAR16 at the canonical rate. The engine wraps it in a
// WAV container, which is stripped here.
func (g *GoogleTTS) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if language == "" {
		language = "ar-XA"
	}
	resp, err := g.c.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: voiceLanguage(language),
			Name:         g.Voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
			SampleRateHertz: g.SampleRateHz,
		},
	})
	if err != nil {
		return nil, err
	}
	pcm, rate, err := audio.DecodeWAV(resp.AudioContent)
	if err != nil {
		return nil, err
	}
	if rate != int(g.SampleRateHz) {
		return nil, fmt.Errorf("engine returned %d Hz, want %d", rate, g.SampleRateHz)
	}
	return pcm, nil
}

// Google voices for Arabic are published under ar-XA regardless of region.
func voiceLanguage(lang string) string {
	if len(lang) >= 2 && lang[:2] == "ar" {
		return "ar-XA"
	}
	return lang
}
