package realtime

import "testing"

func TestDispatch_SpeechStartedAndStopped(t *testing.T) {
	c := &Client{}

	var started, stopped bool
	c.OnSpeechStarted = func() { started = true }
	c.OnSpeechStopped = func() { stopped = true }

	c.dispatch("input_audio_buffer.speech_started", nil)
	c.dispatch("input_audio_buffer.speech_stopped", nil)

	if !started || !stopped {
		t.Errorf("started=%v stopped=%v, want both true", started, stopped)
	}
}

func TestDispatch_OutputItemAdded(t *testing.T) {
	c := &Client{}

	var gotID, gotRole, gotType string
	c.OnOutputItemAdded = func(itemID, role, itemType string) {
		gotID, gotRole, gotType = itemID, role, itemType
	}

	c.dispatch("response.output_item.added", map[string]interface{}{
		"item": map[string]interface{}{
			"id":   "item-1",
			"role": "assistant",
			"type": "message",
		},
	})

	if gotID != "item-1" || gotRole != "assistant" || gotType != "message" {
		t.Errorf("got (%q, %q, %q)", gotID, gotRole, gotType)
	}
}

func TestDispatch_AudioDelta(t *testing.T) {
	c := &Client{}

	var delta string
	c.OnAudioDelta = func(d string) { delta = d }

	c.dispatch("response.audio.delta", map[string]interface{}{"delta": "base64chunk"})

	if delta != "base64chunk" {
		t.Errorf("delta = %q, want base64chunk", delta)
	}
}

func TestDispatch_UserTranscript_EmptyDiscarded(t *testing.T) {
	c := &Client{}

	called := false
	c.OnUserTranscript = func(text string) { called = true }

	c.dispatch("conversation.item.input_audio_transcription.completed", map[string]interface{}{
		"transcript": "",
	})

	if called {
		t.Error("empty transcript must be discarded")
	}
}

func TestHandleResponseDone_ExtractsTextAndFunctionCalls(t *testing.T) {
	c := &Client{}

	var gotText string
	var gotCalls []FunctionCall
	c.OnResponseDone = func(text string, calls []FunctionCall) {
		gotText = text
		gotCalls = calls
	}

	msg := map[string]interface{}{
		"response": map[string]interface{}{
			"output": []interface{}{
				map[string]interface{}{
					"type": "message",
					"role": "assistant",
					"content": []interface{}{
						map[string]interface{}{"transcript": "Hello there"},
					},
				},
				map[string]interface{}{
					"type":      "function_call",
					"call_id":   "call-1",
					"name":      "finalize_reservation",
					"arguments": `{"answers":{}}`,
				},
			},
		},
	}

	c.handleResponseDone(msg)

	if gotText != "Hello there" {
		t.Errorf("gotText = %q, want %q", gotText, "Hello there")
	}
	if len(gotCalls) != 1 || gotCalls[0].Name != "finalize_reservation" || gotCalls[0].CallID != "call-1" {
		t.Errorf("gotCalls = %+v", gotCalls)
	}
}

func TestHandleResponseDone_IgnoresNonAssistantMessages(t *testing.T) {
	c := &Client{}

	var gotText string
	c.OnResponseDone = func(text string, calls []FunctionCall) { gotText = text }

	msg := map[string]interface{}{
		"response": map[string]interface{}{
			"output": []interface{}{
				map[string]interface{}{
					"type": "message",
					"role": "user",
					"content": []interface{}{
						map[string]interface{}{"transcript": "user said this"},
					},
				},
			},
		},
	}

	c.handleResponseDone(msg)

	if gotText != "" {
		t.Errorf("gotText = %q, want empty (user message ignored)", gotText)
	}
}

func TestHandleError_Classifies(t *testing.T) {
	tests := []struct {
		code string
		want ErrorClass
	}{
		{"response_cancel_not_active", ErrorClassBenign},
		{"rate_limit_exceeded", ErrorClassBudget},
		{"insufficient_quota", ErrorClassBudget},
		{"something_else", ErrorClassOther},
	}

	for _, tt := range tests {
		c := &Client{}
		var gotClass ErrorClass
		c.OnError = func(code string, class ErrorClass, message string) { gotClass = class }

		c.handleError(map[string]interface{}{
			"error": map[string]interface{}{"code": tt.code, "message": "boom"},
		})

		if gotClass != tt.want {
			t.Errorf("code %q: class = %v, want %v", tt.code, gotClass, tt.want)
		}
	}
}
