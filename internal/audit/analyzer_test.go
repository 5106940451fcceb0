package audit

import (
	"reflect"
	"testing"
)

func auditSource(t *testing.T, src string) []Issue {
	t.Helper()
	return NewAnalyzer().Audit("/tmp/app.py", []byte(src))
}

func TestAuditCleanFile(t *testing.T) {
	issues := auditSource(t, "def add(a, b):\n    return a + b\n")
	if len(issues) != 0 {
		t.Errorf("expected no issues for clean file, got %v", issues)
	}
}

func TestAuditDetectsEval(t *testing.T) {
	issues := auditSource(t, "x = 1\nresult = eval(user_input)\n")
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d: %v", len(issues), issues)
	}
	issue := issues[0]
	if issue.Severity != SeverityHigh {
		t.Errorf("expected high severity, got %s", issue.Severity)
	}
	if issue.Line != 2 {
		t.Errorf("expected line 2, got %d", issue.Line)
	}
	if issue.Message != "Use of eval() can be dangerous." {
		t.Errorf("unexpected message: %s", issue.Message)
	}
}

func TestAuditDetectsExec(t *testing.T) {
	issues := auditSource(t, "exec(payload)\n")
	if len(issues) != 1 || issues[0].Severity != SeverityHigh {
		t.Fatalf("expected one high issue, got %v", issues)
	}
}

func TestAuditIgnoresQualifiedEval(t *testing.T) {
	// Only bare-name calls to dynamic-execution primitives are flagged.
	issues := auditSource(t, "ast.literal_eval(data)\nobj.eval(data)\n")
	if len(issues) != 0 {
		t.Errorf("expected no issues for qualified calls, got %v", issues)
	}
}

func TestAuditDetectsFStringQuery(t *testing.T) {
	src := "cursor.execute(f\"SELECT * FROM users WHERE id = {user_id}\")\n"
	issues := auditSource(t, src)
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d: %v", len(issues), issues)
	}
	issue := issues[0]
	if issue.Severity != SeverityCritical {
		t.Errorf("expected critical severity, got %s", issue.Severity)
	}
	if issue.Line != 1 {
		t.Errorf("expected line 1, got %d", issue.Line)
	}
}

func TestAuditDetectsConcatQuery(t *testing.T) {
	src := "db.executemany(\"DELETE FROM t WHERE id = \" + str(uid))\n"
	issues := auditSource(t, src)
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d: %v", len(issues), issues)
	}
	if issues[0].Severity != SeverityHigh {
		t.Errorf("expected high severity, got %s", issues[0].Severity)
	}
}

func TestAuditFStringAndConcatNeverBothFire(t *testing.T) {
	// A single argument node has one concrete shape; the f-string and
	// concatenation rules must not both fire for it.
	for _, src := range []string{
		"cursor.execute(f\"SELECT {x}\")\n",
		"cursor.execute(\"SELECT \" + x)\n",
	} {
		issues := auditSource(t, src)
		if len(issues) != 1 {
			t.Errorf("source %q: expected exactly 1 issue, got %v", src, issues)
		}
	}
}

func TestAuditBareExecuteCall(t *testing.T) {
	// Bare-name execute matches the query rules the same as qualified calls.
	issues := auditSource(t, "execute(f\"UPDATE t SET v = {v}\")\n")
	if len(issues) != 1 || issues[0].Severity != SeverityCritical {
		t.Fatalf("expected one critical issue, got %v", issues)
	}
}

func TestAuditCaseInsensitiveQueryName(t *testing.T) {
	issues := auditSource(t, "conn.EXECUTE(f\"SELECT {x}\")\n")
	if len(issues) != 1 || issues[0].Severity != SeverityCritical {
		t.Fatalf("expected one critical issue, got %v", issues)
	}
}

func TestAuditPlainStringQueryNotFlagged(t *testing.T) {
	issues := auditSource(t, "cursor.execute(\"SELECT * FROM users WHERE id = ?\", (uid,))\n")
	if len(issues) != 0 {
		t.Errorf("parameterized query must not be flagged, got %v", issues)
	}
}

func TestAuditKeywordArgSkipped(t *testing.T) {
	// The rules key on the first positional argument only.
	issues := auditSource(t, "cursor.execute(sql=f\"SELECT {x}\")\n")
	if len(issues) != 0 {
		t.Errorf("keyword argument should not match, got %v", issues)
	}
}

func TestAuditMultipleRulesSameFile(t *testing.T) {
	src := "eval(code)\ncursor.execute(f\"SELECT {x}\")\ndb.execute(\"a\" + b)\n"
	issues := auditSource(t, src)
	if len(issues) != 3 {
		t.Fatalf("expected 3 issues, got %d: %v", len(issues), issues)
	}
	// Document order.
	if issues[0].Line != 1 || issues[1].Line != 2 || issues[2].Line != 3 {
		t.Errorf("issues out of document order: %v", issues)
	}
	want := []Severity{SeverityHigh, SeverityCritical, SeverityHigh}
	for i, sev := range want {
		if issues[i].Severity != sev {
			t.Errorf("issue %d: expected %s, got %s", i, sev, issues[i].Severity)
		}
	}
}

func TestAuditEvalBeforeQueryRuleOnSameCall(t *testing.T) {
	// eval used directly as a query runner: dynamic-execution check is
	// evaluated before the query-construction checks on the same node.
	issues := auditSource(t, "eval(f\"SELECT {x}\")\n")
	if len(issues) != 1 || issues[0].Severity != SeverityHigh {
		t.Fatalf("expected single high issue for eval, got %v", issues)
	}
}

func TestAuditParseFailure(t *testing.T) {
	issues := auditSource(t, "def broken(:\n")
	if len(issues) != 1 {
		t.Fatalf("expected 1 parse issue, got %d: %v", len(issues), issues)
	}
	issue := issues[0]
	if issue.Severity != SeverityError {
		t.Errorf("expected error severity, got %s", issue.Severity)
	}
	if issue.Line != 0 {
		t.Errorf("parse failures are file-level, got line %d", issue.Line)
	}
	if issue.File != "/tmp/app.py" {
		t.Errorf("expected file on issue, got %q", issue.File)
	}
}

func TestAuditDeterministic(t *testing.T) {
	src := "eval(a)\ncursor.execute(f\"SELECT {b}\")\n"
	first := auditSource(t, src)
	second := auditSource(t, src)
	if len(first) != len(second) {
		t.Fatalf("rescan produced different issue counts: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !reflect.DeepEqual(first[i], second[i]) {
			t.Errorf("issue %d differs between identical runs: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestIsSupportedPath(t *testing.T) {
	a := NewAnalyzer()
	if !a.IsSupportedPath("/srv/app.py") {
		t.Error("expected .py to be supported")
	}
	if a.IsSupportedPath("/srv/app.go") {
		t.Error("expected .go to be unsupported")
	}
}
