package measure

import "testing"

func TestParseLikwidTable(t *testing.T) {
	output := `
+-------------------+---------+
|       Event        |  Core 0 |
+-------------------+---------+
|    CPI             | 0.7123  |
| Runtime (RDTSC) [s]| 1.2345  |
+-------------------+---------+
`
	got := parseLikwidTable(output)
	if got["CPI"] != 0.7123 {
		t.Errorf("CPI = %v, want 0.7123", got["CPI"])
	}
	if got["Runtime (RDTSC) [s]"] != 1.2345 {
		t.Errorf("Runtime (RDTSC) [s] = %v, want 1.2345", got["Runtime (RDTSC) [s]"])
	}
}

func TestParseLikwidTableIgnoresNonDataRows(t *testing.T) {
	output := "+---+---+\n| a | b |\n+---+---+\n"
	got := parseLikwidTable(output)
	if len(got) != 0 {
		t.Errorf("expected no parsed metrics from non-numeric row, got %v", got)
	}
}
