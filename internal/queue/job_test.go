package queue

import "testing"

func TestStatusTerminal(t *testing.T) {
	cases := map[Status]bool{
		Ready:      false,
		Assigned:   false,
		Processing: false,
		Completed:  true,
		Failed:     true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Fatalf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestDecodePayload(t *testing.T) {
	j := Job{Payload: []byte(`{"action":"greet","name":"World"}`)}
	decoded, err := j.DecodePayload()
	if err != nil {
		t.Fatal(err)
	}
	if decoded["action"] != "greet" {
		t.Fatalf("unexpected decoded payload: %#v", decoded)
	}
}

func TestDecodePayloadRejectsMalformedJSON(t *testing.T) {
	j := Job{Payload: []byte(`not json`)}
	if _, err := j.DecodePayload(); err == nil {
		t.Fatal("expected decode error")
	}
}
