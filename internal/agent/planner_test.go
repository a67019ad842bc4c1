package agent

import (
	"testing"

	"github.com/haasonsaas/sidekick/pkg/models"
)

const validPlanJSON = `{"objective":"audit the repo","context_summary":"","tasks":[
  {"id":1,"description":"read the code","worker_type":"reader","tools":["selfcode"],"depends_on":[]},
  {"id":2,"description":"report findings","worker_type":"reporter","depends_on":[1]}
]}`

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
		tasks   int
	}{
		{"raw json", validPlanJSON, false, 2},
		{"fenced json", "Here is the plan:\n```json\n" + validPlanJSON + "\n```", false, 2},
		{"embedded in prose", "Sure! The plan is " + validPlanJSON + " — let me know.", false, 2},
		{"no json at all", "I cannot produce a plan right now.", true, 0},
		{"empty tasks", `{"objective":"x","tasks":[]}`, true, 0},
		{"non-contiguous ids", `{"objective":"x","tasks":[{"id":1,"description":"a"},{"id":3,"description":"b"}]}`, true, 0},
		{"forward dependency", `{"objective":"x","tasks":[{"id":1,"description":"a","depends_on":[2]},{"id":2,"description":"b"}]}`, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := ParsePlan(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePlan: %v", err)
			}
			if len(plan.Tasks) != tt.tasks {
				t.Errorf("tasks = %d, want %d", len(plan.Tasks), tt.tasks)
			}
		})
	}
}

func TestParsePlanNormalizesWorkerTypes(t *testing.T) {
	plan, err := ParsePlan(`{"objective":"x","tasks":[{"id":1,"description":"a","worker_type":"wizard"}]}`)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if plan.Tasks[0].WorkerType != models.WorkerGeneral {
		t.Errorf("worker type = %s, want general", plan.Tasks[0].WorkerType)
	}
	if plan.Tasks[0].Status != models.TaskPending {
		t.Errorf("status = %s, want pending", plan.Tasks[0].Status)
	}
}

func TestFirstBalancedObject(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"simple", `x {"a":1} y`, `{"a":1}`},
		{"nested", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"brace in string", `{"a":"}"}`, `{"a":"}"}`},
		{"unbalanced", `{"a":1`, ""},
		{"none", "plain text", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstBalancedObject(tt.text); got != tt.want {
				t.Errorf("firstBalancedObject = %q, want %q", got, tt.want)
			}
		})
	}
}
