package event

import (
	"testing"
	"time"
)

func TestType_String(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      string
	}{
		{
			name:      "workflow started",
			eventType: TypeWorkflowStarted,
			want:      "workflow.started",
		},
		{
			name:      "stage activated",
			eventType: TypeStageActivated,
			want:      "workflow.stage_activated",
		},
		{
			name:      "stage approved",
			eventType: TypeStageApproved,
			want:      "workflow.stage_approved",
		},
		{
			name:      "workflow approved",
			eventType: TypeWorkflowApproved,
			want:      "workflow.approved",
		},
		{
			name:      "workflow rejected",
			eventType: TypeWorkflowRejected,
			want:      "workflow.rejected",
		},
		{
			name:      "workflow cancelled",
			eventType: TypeWorkflowCancelled,
			want:      "workflow.cancelled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.String(); got != tt.want {
				t.Errorf("Type.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestType_IsValid(t *testing.T) {
	tests := []struct {
		name      string
		eventType Type
		want      bool
	}{
		{
			name:      "valid - workflow started",
			eventType: TypeWorkflowStarted,
			want:      true,
		},
		{
			name:      "valid - stage approved",
			eventType: TypeStageApproved,
			want:      true,
		},
		{
			name:      "valid - workflow cancelled",
			eventType: TypeWorkflowCancelled,
			want:      true,
		},
		{
			name:      "invalid - unknown type",
			eventType: Type("unknown.type"),
			want:      false,
		},
		{
			name:      "invalid - empty string",
			eventType: Type(""),
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.eventType.IsValid(); got != tt.want {
				t.Errorf("Type.IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewEvent(t *testing.T) {
	payload := map[string]interface{}{
		"stage_name":  "Manager Review",
		"order_index": 1,
	}

	event := NewEvent(TypeStageApproved, 123, "expense_report", "er-456", payload)

	if event == nil {
		t.Fatal("NewEvent() returned nil")
	}

	if event.ID == "" {
		t.Error("Event ID should not be empty")
	}

	if event.Type != TypeStageApproved {
		t.Errorf("Event Type = %v, want %v", event.Type, TypeStageApproved)
	}

	if event.InstanceID != 123 {
		t.Errorf("Event InstanceID = %v, want %v", event.InstanceID, 123)
	}

	if event.TargetType != "expense_report" {
		t.Errorf("Event TargetType = %v, want %v", event.TargetType, "expense_report")
	}

	if event.TargetID != "er-456" {
		t.Errorf("Event TargetID = %v, want %v", event.TargetID, "er-456")
	}

	if event.Payload == nil {
		t.Fatal("Event Payload should not be nil")
	}

	if event.Payload["stage_name"] != "Manager Review" {
		t.Errorf("Event Payload[stage_name] = %v, want %v", event.Payload["stage_name"], "Manager Review")
	}

	if event.Timestamp.IsZero() {
		t.Error("Event Timestamp should not be zero")
	}

	if event.CorrelationID == "" {
		t.Error("Event CorrelationID should not be empty")
	}

	if time.Since(event.Timestamp) > time.Second {
		t.Error("Event Timestamp should be recent")
	}
}

func TestNewEventWithCorrelation(t *testing.T) {
	correlationID := "test-correlation-123"
	payload := map[string]interface{}{
		"reason": "budget withdrawn",
	}

	event := NewEventWithCorrelation(TypeWorkflowCancelled, 789, "purchase_order", "po-789", payload, correlationID)

	if event == nil {
		t.Fatal("NewEventWithCorrelation() returned nil")
	}

	if event.CorrelationID != correlationID {
		t.Errorf("Event CorrelationID = %v, want %v", event.CorrelationID, correlationID)
	}

	if event.Type != TypeWorkflowCancelled {
		t.Errorf("Event Type = %v, want %v", event.Type, TypeWorkflowCancelled)
	}

	if event.InstanceID != 789 {
		t.Errorf("Event InstanceID = %v, want %v", event.InstanceID, 789)
	}
}

func TestEvent_WithPayload(t *testing.T) {
	original := NewEvent(TypeWorkflowStarted, 1, "expense_report", "er-1", map[string]interface{}{
		"key1": "value1",
	})

	modified := original.WithPayload("key2", "value2")

	// Original should be unchanged (immutability)
	if _, exists := original.Payload["key2"]; exists {
		t.Error("Original event should not be modified")
	}

	if original.Payload["key1"] != "value1" {
		t.Error("Original event payload should remain intact")
	}

	if modified.Payload["key1"] != "value1" {
		t.Error("Modified event should retain original payload")
	}

	if modified.Payload["key2"] != "value2" {
		t.Error("Modified event should have new payload")
	}

	if modified.ID != original.ID {
		t.Error("Modified event should have same ID")
	}

	if modified.Type != original.Type {
		t.Error("Modified event should have same Type")
	}

	if modified.InstanceID != original.InstanceID {
		t.Error("Modified event should have same InstanceID")
	}

	if modified.CorrelationID != original.CorrelationID {
		t.Error("Modified event should have same CorrelationID")
	}
}

func TestEvent_GetPayloadString(t *testing.T) {
	event := NewEvent(TypeWorkflowStarted, 1, "expense_report", "er-1", map[string]interface{}{
		"status":  "APPROVED",
		"number":  123,
		"missing": nil,
	})

	tests := []struct {
		name string
		key  string
		want string
	}{
		{
			name: "existing string",
			key:  "status",
			want: "APPROVED",
		},
		{
			name: "non-string value",
			key:  "number",
			want: "",
		},
		{
			name: "missing key",
			key:  "nonexistent",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := event.GetPayloadString(tt.key); got != tt.want {
				t.Errorf("GetPayloadString(%v) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestEvent_GetPayloadInt(t *testing.T) {
	event := NewEvent(TypeWorkflowStarted, 1, "expense_report", "er-1", map[string]interface{}{
		"int64":   int64(100),
		"int":     50,
		"float64": 75.5,
		"string":  "not a number",
		"missing": nil,
	})

	tests := []struct {
		name string
		key  string
		want int64
	}{
		{
			name: "int64 value",
			key:  "int64",
			want: 100,
		},
		{
			name: "int value",
			key:  "int",
			want: 50,
		},
		{
			name: "float64 value (converted)",
			key:  "float64",
			want: 75,
		},
		{
			name: "non-int value",
			key:  "string",
			want: 0,
		},
		{
			name: "missing key",
			key:  "nonexistent",
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := event.GetPayloadInt(tt.key); got != tt.want {
				t.Errorf("GetPayloadInt(%v) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestEvent_GetPayloadBool(t *testing.T) {
	event := NewEvent(TypeStageApproved, 1, "expense_report", "er-1", map[string]interface{}{
		"final_stage": true,
		"string":      "not a bool",
		"missing":     nil,
	})

	tests := []struct {
		name string
		key  string
		want bool
	}{
		{
			name: "true value",
			key:  "final_stage",
			want: true,
		},
		{
			name: "non-bool value",
			key:  "string",
			want: false,
		},
		{
			name: "missing key",
			key:  "nonexistent",
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := event.GetPayloadBool(tt.key); got != tt.want {
				t.Errorf("GetPayloadBool(%v) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestEvent_UniqueIDs(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		event := NewEvent(TypeWorkflowStarted, int64(i), "expense_report", "er-1", nil)
		if ids[event.ID] {
			t.Errorf("Duplicate event ID found: %s", event.ID)
		}
		ids[event.ID] = true
	}
}

func TestEvent_CorrelationChain(t *testing.T) {
	event1 := NewEvent(TypeWorkflowStarted, 1, "expense_report", "er-1", nil)
	correlationID := event1.CorrelationID

	event2 := NewEventWithCorrelation(TypeStageApproved, 1, "expense_report", "er-1", nil, correlationID)
	event3 := NewEventWithCorrelation(TypeWorkflowApproved, 1, "expense_report", "er-1", nil, correlationID)

	if event2.CorrelationID != correlationID {
		t.Error("Event2 should have same correlation ID")
	}

	if event3.CorrelationID != correlationID {
		t.Error("Event3 should have same correlation ID")
	}

	if event1.ID == event2.ID || event1.ID == event3.ID || event2.ID == event3.ID {
		t.Error("Events should have unique IDs even with same correlation ID")
	}
}
