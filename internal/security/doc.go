// Package security builds the configuration posture report exposed by
// cmsauth.Service.SecurityReport. It inspects settings only and never touches
// live credentials.
package security
