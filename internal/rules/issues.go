package rules

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"

	"github.com/pankaj-dahiya-devops/iacvet/internal/k8sview"
	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

// Sentinel file values for issues not attributable to a single file.
const (
	FileDeploymentStrategy = "deployment-strategy"
	FileCrossDomain        = "cross-domain"
	FileCluster            = "cluster"
	FileEnvironments       = "environments"
)

func newIssue(file string, sev models.Severity, format string, args ...any) models.Issue {
	return models.Issue{File: file, Severity: sev, Detail: fmt.Sprintf(format, args...)}
}

// objectIssue renders "Kind/name: detail".
func objectIssue(obj k8sview.Object, sev models.Severity, format string, args ...any) models.Issue {
	return models.Issue{
		File:     obj.File(),
		Severity: sev,
		Detail:   obj.ID() + ": " + fmt.Sprintf(format, args...),
	}
}

// containerIssue renders "Kind/name/container: detail".
func containerIssue(obj k8sview.Object, c corev1.Container, sev models.Severity, format string, args ...any) models.Issue {
	return models.Issue{
		File:     obj.File(),
		Severity: sev,
		Detail:   obj.ID() + "/" + c.Name + ": " + fmt.Sprintf(format, args...),
	}
}

// prefixedIssue renders "Prefix: detail" at serialization time.
func prefixedIssue(prefix models.Prefix, file string, sev models.Severity, format string, args ...any) models.Issue {
	return models.Issue{
		File:     file,
		Severity: sev,
		Prefix:   prefix,
		Detail:   fmt.Sprintf(format, args...),
	}
}
