package ingest

import (
	"context"
	"errors"
	"testing"

	"vitalwatch/internal/models"
)

func TestParseMessage(t *testing.T) {
	r, err := ParseMessage(" 12, 1700000000000, Saturation, 97.5 ")
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	want := models.NewReading("12", models.KindSaturation, 97.5, 1700000000000)
	if r != want {
		t.Errorf("got %+v, want %+v", r, want)
	}
}

func TestParseMessage_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{"too few fields", "1,1700000000000,HeartRate", ErrMalformedMessage},
		{"too many fields", "1,1700000000000,HeartRate,70,x", ErrMalformedMessage},
		{"empty id", " ,1700000000000,HeartRate,70", models.ErrEmptyPatientID},
		{"bad timestamp", "1,yesterday,HeartRate,70", ErrMalformedMessage},
		{"unknown kind", "1,1700000000000,Temperature,36.6", models.ErrInvalidKind},
		{"bad value", "1,1700000000000,HeartRate,seventy", ErrMalformedMessage},
		{"negative value", "1,1700000000000,HeartRate,-70", models.ErrNegativeMeasure},
		{"zero timestamp", "1,0,HeartRate,70", models.ErrZeroTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessage(tt.line)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseMessage_NegativeECG(t *testing.T) {
	r, err := ParseMessage("1,1700000000000,ECG,-0.3")
	if err != nil {
		t.Fatalf("ECG may be negative: %v", err)
	}
	if r.Value != -0.3 {
		t.Errorf("value = %v", r.Value)
	}
}

func TestSubscriber_Handle(t *testing.T) {
	var got []models.Reading
	s := &Subscriber{sink: func(_ context.Context, r models.Reading) error {
		got = append(got, r)
		return nil
	}}

	payload := "1,1700000000000,HeartRate,72\n\nbad line\n2,1700000000000,Systolic,120\n"
	if n := s.handle(context.Background(), "vitals/1/readings", []byte(payload)); n != 2 {
		t.Errorf("accepted = %d, want 2", n)
	}
	if len(got) != 2 || got[1].Kind != models.KindSystolic {
		t.Errorf("unexpected readings %+v", got)
	}
}

func TestSubscriber_SinkError(t *testing.T) {
	s := &Subscriber{sink: func(context.Context, models.Reading) error {
		return errors.New("queue full")
	}}
	if n := s.handle(context.Background(), "t", []byte("1,1700000000000,HeartRate,72")); n != 0 {
		t.Errorf("accepted = %d, want 0", n)
	}
}
