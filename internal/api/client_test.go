package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mistakeknot/orgsync/internal/model"
)

func TestListProjectsFollowsPagination(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/projects" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		switch r.URL.Query().Get("page") {
		case "":
			next := srv.URL + "/api/projects?page=2"
			json.NewEncoder(w).Encode(map[string]any{
				"results": []model.Project{{ID: "p1"}},
				"next":    next,
			})
		case "2":
			json.NewEncoder(w).Encode(map[string]any{
				"results": []model.Project{{ID: "p2"}},
				"next":    nil,
			})
		default:
			t.Fatalf("unexpected page %s", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	projects, err := c.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 2 || projects[0].ID != "p1" || projects[1].ID != "p2" {
		t.Fatalf("unexpected projects %+v", projects)
	}
}

func TestListAcceptsBareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]model.Task{{ID: "t1", Project: "p1"}})
	}))
	defer srv.Close()

	c := New(srv.URL)
	tasks, err := c.ListTasks(context.Background(), "p1")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t1" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
}

func TestBearerTokenAttached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected auth header %q", got)
		}
		json.NewEncoder(w).Encode([]model.Project{})
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("secret"))
	if _, err := c.ListProjects(context.Background()); err != nil {
		t.Fatalf("list projects: %v", err)
	}
}

func TestValidationErrorFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"name":["This field is required."],"org_type":"Invalid choice."}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.CreateOrg(context.Background(), CreateOrgRequest{OrgType: model.OrgTypeDev})
	if err == nil {
		t.Fatalf("expected error")
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !apiErr.IsValidation() {
		t.Fatalf("expected validation error, got %+v", apiErr)
	}
	if got := apiErr.Fields["name"]; len(got) != 1 || got[0] != "This field is required." {
		t.Fatalf("unexpected name errors %v", got)
	}
	if got := apiErr.Fields["org_type"]; len(got) != 1 || got[0] != "Invalid choice." {
		t.Fatalf("unexpected org_type errors %v", got)
	}
}

func TestNonValidationErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream down")
	}))
	defer srv.Close()

	c := New(srv.URL)
	err := c.RefreshOrg(context.Background(), "o1")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Status != http.StatusBadGateway || apiErr.Message != "upstream down" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if apiErr.IsValidation() {
		t.Fatalf("5xx must not read as validation error")
	}
}

func TestGetOrgNullMeansNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "null")
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, found, err := c.GetOrg(context.Background(), "o1")
	if err != nil {
		t.Fatalf("get org: %v", err)
	}
	if found {
		t.Fatalf("expected not found for null body")
	}
}

func TestUpdateTaskPatchesFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/api/tasks/t1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var fields map[string]any
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if v, present := fields["assigned_dev"]; !present || v != nil {
			t.Errorf("expected null assigned_dev, got %v", fields)
		}
		json.NewEncoder(w).Encode(model.Task{ID: "t1", Project: "p1"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	task, err := c.UpdateTask(context.Background(), "t1", map[string]any{"assigned_dev": nil})
	if err != nil {
		t.Fatalf("update task: %v", err)
	}
	if task.ID != "t1" {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestCanReassign(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tasks/t1/can-reassign" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["role"] != "QA" || body["gh_uid"] != "gh-7" {
			t.Errorf("unexpected body %v", body)
		}
		fmt.Fprint(w, `{"can_reassign":false}`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	can, err := c.CanReassign(context.Background(), "t1", model.OrgTypeQA, "gh-7")
	if err != nil {
		t.Fatalf("can reassign: %v", err)
	}
	if can {
		t.Fatalf("expected can_reassign false")
	}
}

func TestAcknowledgeOnlyEndpoints(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()
	if err := c.RefreshProjects(ctx); err != nil {
		t.Fatalf("refresh projects: %v", err)
	}
	if err := c.CheckOrgChanges(ctx, "o1"); err != nil {
		t.Fatalf("check changes: %v", err)
	}
	if err := c.CommitOrg(ctx, "o1", CommitRequest{Message: "m"}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := c.DeleteOrg(ctx, "o1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	want := []string{
		"POST /api/projects/refresh",
		"POST /api/scratch-orgs/o1/refresh-changes",
		"POST /api/scratch-orgs/o1/commit",
		"DELETE /api/scratch-orgs/o1",
	}
	if len(paths) != len(want) {
		t.Fatalf("expected %d requests, got %v", len(want), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("request %d: got %s, want %s", i, paths[i], want[i])
		}
	}
}
