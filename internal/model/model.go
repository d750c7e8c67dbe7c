// Package model defines the domain objects synchronized between the server
// and the local store: projects, epics, tasks, and scratch orgs.
package model

import "time"

// OrgType identifies the role a scratch org plays for its parent.
type OrgType string

const (
	OrgTypeDev        OrgType = "Dev"
	OrgTypeQA         OrgType = "QA"
	OrgTypePlayground OrgType = "Playground"
)

// ParentKind identifies which kind of object an org is attached to.
type ParentKind string

const (
	ParentTask    ParentKind = "task"
	ParentEpic    ParentKind = "epic"
	ParentProject ParentKind = "project"
)

// Ref points at an org's parent object. Exactly one of the id fields is
// expected to be set; Kind reports which.
type Ref struct {
	Kind ParentKind
	ID   string
}

// Project mirrors a repository on the version-control provider.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	RepoURL     string `json:"repo_url"`
	RepoOwner   string `json:"repo_owner"`
	RepoName    string `json:"repo_name"`
	Description string `json:"description"`
	BranchName  string `json:"branch_name"`
}

// Epic is a named group of tasks backed by a long-lived branch.
type Epic struct {
	ID                  string `json:"id"`
	Project             string `json:"project"`
	Name                string `json:"name"`
	Slug                string `json:"slug"`
	Description         string `json:"description"`
	Status              string `json:"status"`
	BranchName          string `json:"branch_name"`
	PRURL               string `json:"pr_url"`
	CurrentlyCreatingPR bool   `json:"currently_creating_pr"`
}

// Task is a unit of work backed by a feature branch, optionally under an
// epic. AssignedDev and AssignedQA hold version-control-provider user ids,
// never org ids.
type Task struct {
	ID                  string `json:"id"`
	Project             string `json:"project"`
	Epic                string `json:"epic"`
	Name                string `json:"name"`
	Slug                string `json:"slug"`
	Description         string `json:"description"`
	Status              string `json:"status"`
	BranchName          string `json:"branch_name"`
	PRURL               string `json:"pr_url"`
	AssignedDev         string `json:"assigned_dev"`
	AssignedQA          string `json:"assigned_qa"`
	CurrentlyCreatingPR bool   `json:"currently_creating_pr"`
	ReviewValid         bool   `json:"review_valid"`
}

// Org is an ephemeral cloud development environment. Exactly one of Task,
// Epic, or Project is non-empty; the org references its parent, never the
// other way around.
type Org struct {
	ID      string  `json:"id"`
	Task    string  `json:"task"`
	Epic    string  `json:"epic"`
	Project string  `json:"project"`
	OrgType OrgType `json:"org_type"`
	Owner   string  `json:"owner"`

	IsCreated           bool `json:"is_created"`
	HasUnsavedChanges   bool `json:"has_unsaved_changes"`
	TotalUnsavedChanges int  `json:"total_unsaved_changes"`
	TotalIgnoredChanges int  `json:"total_ignored_changes"`

	CurrentlyRefreshingChanges bool `json:"currently_refreshing_changes"`
	CurrentlyCapturingChanges  bool `json:"currently_capturing_changes"`
	CurrentlyRefreshingOrg     bool `json:"currently_refreshing_org"`
	CurrentlyReassigningUser   bool `json:"currently_reassigning_user"`

	DeleteQueuedAt *time.Time `json:"delete_queued_at"`
	ExpiresAt      *time.Time `json:"expires_at"`
	LastModifiedAt *time.Time `json:"last_modified_at"`

	URL           string     `json:"url"`
	LogURL        string     `json:"log_url"`
	LastCheckedAt *time.Time `json:"last_checked_unsaved_changes_at"`
}

// Parent returns the org's parent reference and whether the parent set is
// valid, i.e. exactly one of task/epic/project is non-empty.
func (o *Org) Parent() (Ref, bool) {
	refs := make([]Ref, 0, 3)
	if o.Task != "" {
		refs = append(refs, Ref{Kind: ParentTask, ID: o.Task})
	}
	if o.Epic != "" {
		refs = append(refs, Ref{Kind: ParentEpic, ID: o.Epic})
	}
	if o.Project != "" {
		refs = append(refs, Ref{Kind: ParentProject, ID: o.Project})
	}
	if len(refs) != 1 {
		return Ref{}, false
	}
	return refs[0], true
}

// DeleteQueued reports whether the org has been optimistically marked for
// deletion and is awaiting server confirmation.
func (o *Org) DeleteQueued() bool {
	return o.DeleteQueuedAt != nil
}
