package agent

import (
	"testing"

	"github.com/gridmind/gridmind/pkg/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name        string
		explanation string
		code        string
		commands    []domain.UICommand
		want        domain.ResponseType
	}{
		{"question mark", "Which column should I use?", "", nil, domain.ResponseClarify},
		{"clarify marker", "Please specify the join key.", "", nil, domain.ResponseClarify},
		{"error marker", "The operation failed: column missing.", "", nil, domain.ResponseError},
		{"not found", "Table sales_2024 not found.", "", nil, domain.ResponseError},
		{"ui only", "Froze the header row.", "", []domain.UICommand{{"action": "freezeColumns"}}, domain.ResponseUI},
		{"data", "Removed inactive users.", `DELETE FROM "users" WHERE active = 0`, nil, domain.ResponseData},
		{"data wins over mixed", "Removed and styled.", `DELETE FROM "users"`, []domain.UICommand{{"action": "setBorder"}}, domain.ResponseData},
		{"mixed", "Computed and styled.", `SELECT * FROM "users"`, []domain.UICommand{{"action": "setBorder"}}, domain.ResponseMixed},
		{"plain answer", "There are 42 rows.", "", nil, domain.ResponseAnswer},
		{"read-only code", "Here are the totals.", `SELECT SUM(x) FROM "t"`, nil, domain.ResponseAnswer},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.explanation, tc.code, tc.commands)
			if got != tc.want {
				t.Errorf("classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestClassifyIdempotent(t *testing.T) {
	explanation := "Removed inactive users."
	code := `DELETE FROM "users" WHERE active = 0`
	commands := []domain.UICommand{{"action": "setBorder"}}

	first := classify(explanation, code, commands)
	for i := 0; i < 5; i++ {
		if got := classify(explanation, code, commands); got != first {
			t.Fatalf("classify not idempotent: %s then %s", first, got)
		}
	}
}
