package platform

import (
	"github.com/HOW2AI-AGENCY/aimusicverse-sub004/internal/errors"
)

// ComponentPlatform identifies platform faults
const ComponentPlatform = "audiocore.platform"

var (
	// ErrAlreadyAttached is raised when an element already feeds a capture node
	ErrAlreadyAttached = errors.New(nil).
				Component(ComponentPlatform).
				Category(errors.CategoryPlatform).
				Context("reason", "already_attached").
				Build()

	// ErrAlreadyConnected is raised when an edge already exists
	ErrAlreadyConnected = errors.New(nil).
				Component(ComponentPlatform).
				Category(errors.CategoryRouting).
				Context("reason", "already_connected").
				Build()

	// ErrConnectFailed is raised when the graph rejects an edge
	ErrConnectFailed = errors.New(nil).
				Component(ComponentPlatform).
				Category(errors.CategoryRouting).
				Context("reason", "connect_failed").
				Build()

	// ErrResumeRejected is raised when the context refuses to start
	ErrResumeRejected = errors.New(nil).
				Component(ComponentPlatform).
				Category(errors.CategoryTransient).
				Context("reason", "resume_rejected").
				Build()

	// ErrContextClosed is raised when operating on a closed context
	ErrContextClosed = errors.New(nil).
				Component(ComponentPlatform).
				Category(errors.CategoryState).
				Context("reason", "context_closed").
				Build()

	// ErrInvalidParameter is raised for out-of-range node parameters
	ErrInvalidParameter = errors.New(nil).
				Component(ComponentPlatform).
				Category(errors.CategoryValidation).
				Context("reason", "invalid_parameter").
				Build()
)

// Fault builds a platform error matching sentinel with cause as message
func Fault(sentinel *errors.EnhancedError, cause error) error {
	return errors.New(cause).
		Component(ComponentPlatform).
		Category(sentinel.Category).
		Context("reason", sentinel.GetContext()["reason"]).
		Build()
}
