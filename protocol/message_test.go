package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseStatus(t *testing.T) {
	cases := []struct {
		status  string
		outcome string
		detail  string
	}{
		{"Success,42", "Success", "42"},
		{"Error,Invalid file format", "Error", "Invalid file format"},
		{"Error,bad, really bad", "Error", "bad, really bad"},
		{"Success", "Success", ""},
		{"", "", ""},
	}

	for _, c := range cases {
		outcome, detail := ParseStatus(c.status)
		if outcome != c.outcome || detail != c.detail {
			t.Errorf("%q: got (%q, %q), want (%q, %q)", c.status, outcome, detail, c.outcome, c.detail)
		}
	}
}

func TestSucceededIsCaseSensitive(t *testing.T) {
	if !(Message{Status: "Success,report.csv"}).Succeeded() {
		t.Error("Success should succeed")
	}

	if (Message{Status: "success,report.csv"}).Succeeded() {
		t.Error("lowercase success should be treated as failure")
	}
}

func TestMessageKeepsExtraFields(t *testing.T) {
	in := `{"recipient":"user-42","job_type":"data","status":"Success,42","table":"records","rows":12}`

	msg := Message{}
	if err := json.Unmarshal([]byte(in), &msg); err != nil {
		t.Fatal(err)
	}

	if msg.Recipient != "user-42" || msg.JobType != JobTypeData || msg.Status != "Success,42" {
		t.Fatalf("unexpected message %+v", msg)
	}

	if string(msg.Extra["table"]) != `"records"` || string(msg.Extra["rows"]) != "12" {
		t.Fatalf("extra fields lost: %v", msg.Extra)
	}

	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}

	if out["table"] != "records" || out["rows"] != float64(12) || out["recipient"] != "user-42" {
		t.Errorf("unexpected round trip %v", out)
	}
}

func TestMessageRejectsNonStringStatus(t *testing.T) {
	msg := Message{}
	if err := json.Unmarshal([]byte(`{"status":5}`), &msg); err == nil {
		t.Error("expected error for numeric status")
	}
}

func TestMessageFrameUsesJobType(t *testing.T) {
	frame, err := MessageFrame(Message{Recipient: "user-9", JobType: JobTypeDownload, Status: "Success,report.csv"}, "")
	if err != nil {
		t.Fatal(err)
	}

	if frame.Event != EventDownload {
		t.Errorf("got event %v", frame.Event)
	}

	msg, err := frame.Message()
	if err != nil {
		t.Fatal(err)
	}

	if msg.Detail() != "report.csv" {
		t.Errorf("got detail %q", msg.Detail())
	}
}
