package config

import "fmt"

// Severity classifies validation findings. Errors block a run; warnings are
// reported and the run continues.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding with a JSON-path-ish location.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// ValidatePipeline checks the decoded pipeline for structural problems.
// It never touches I/O: file existence and DSN reachability are runtime
// concerns, not config concerns.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	errf := func(path, format string, a ...any) {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if p.Job == "" {
		warnf("job", "empty job name; reports and metrics will use a default")
	}

	if p.Source.Kind != "file" {
		errf("source.kind", "must be %q, got %q", "file", p.Source.Kind)
	}
	if p.Source.File == nil || p.Source.File.Path == "" {
		errf("source.file.path", "required")
	}
	if p.Source.Regions != nil && p.Source.Regions.Path == "" {
		errf("source.regions.path", "empty path; omit the regions block instead")
	}

	if p.Parser.Kind != "csv" {
		errf("parser.kind", "must be %q, got %q", "csv", p.Parser.Kind)
	}
	if enc := p.Parser.Options.String("encoding", "utf8"); enc != "utf8" && enc != "latin1" {
		errf("parser.options.encoding", "must be utf8 or latin1, got %q", enc)
	}

	for i, t := range p.Transform {
		switch t.Kind {
		case "coerce", "validate":
		default:
			errf(fmt.Sprintf("transform[%d].kind", i), "unknown kind %q", t.Kind)
		}
	}

	switch p.Storage.Kind {
	case "postgres", "sqlite", "mssql":
	case "":
		errf("storage.kind", "required")
	default:
		errf("storage.kind", "unsupported backend %q", p.Storage.Kind)
	}
	if p.Storage.DB.DSN == "" {
		errf("storage.db.dsn", "required")
	}

	switch p.Runtime.ConflictPolicy {
	case "", "first_seen", "reject":
	default:
		errf("runtime.conflict_policy", "must be first_seen or reject, got %q", p.Runtime.ConflictPolicy)
	}
	if p.Runtime.BatchSize < 0 {
		errf("runtime.batch_size", "must not be negative")
	}
	if p.Runtime.LoaderWorkers < 0 {
		errf("runtime.loader_workers", "must not be negative")
	}

	if p.Export != nil && p.Export.Dir == "" {
		errf("export.dir", "required when export is set")
	}

	return issues
}

// HasErrors reports whether any issue is severity error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}
