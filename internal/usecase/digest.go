package usecase

import (
	"fmt"
	"strings"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
)

// FormatDigest renders a run report as a plain-text chat message.
func FormatDigest(report domain.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "hellomimir daily papers %s\n", report.Date)
	fmt.Fprintf(&b, "succeeded: %d, failed: %d\n", report.SuccessCount, report.FailCount)

	if report.Failed() {
		fmt.Fprintf(&b, "\nRUN FAILED: %s\n", report.Error)
		return b.String()
	}
	if len(report.Results) == 0 {
		b.WriteString("\nno fields configured\n")
		return b.String()
	}

	b.WriteString("\n")
	for _, r := range report.Results {
		if r.Success {
			fmt.Fprintf(&b, "- %s: https://arxiv.org/abs/%s\n", r.FieldSlug, r.ExternalID)
			continue
		}
		fmt.Fprintf(&b, "- %s: FAILED %s\n", r.FieldSlug, r.Error)
	}
	return b.String()
}
