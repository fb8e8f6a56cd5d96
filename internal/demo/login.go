package demo

import (
	"context"
	"fmt"
	"io"
	"net/mail"

	"cronflow/internal/graph"
	"cronflow/internal/task"
)

// MinPasswordLen is the shortest password Validate accepts.
const MinPasswordLen = 8

// Validate is a manual graph checking a "credentials" map with "email" and
// "password" keys. It returns a bool from its single leaf.
func Validate(opts ...graph.Option) (*graph.Graph, error) {
	email := task.New("validate_email", func(ctx context.Context, in task.Args) (any, error) {
		creds, _ := in.Get("credentials").(map[string]any)
		s, ok := creds["email"].(string)
		if !ok {
			return false, nil
		}
		_, err := mail.ParseAddress(s)
		return err == nil, nil
	}, task.WithInputs("credentials"))
	password := task.New("validate_password", func(ctx context.Context, in task.Args) (any, error) {
		creds, _ := in.Get("credentials").(map[string]any)
		s, ok := creds["password"].(string)
		return ok && len(s) >= MinPasswordLen, nil
	}, task.WithInputs("credentials"))
	collect := task.New("collect", func(ctx context.Context, in task.Args) (any, error) {
		e, _ := in.Get("validate_email").(bool)
		p, _ := in.Get("validate_password").(bool)
		return e && p, nil
	}, task.WithInputs("validate_email", "validate_password"))

	g, err := graph.New("validate credentials", graph.Manual, opts...)
	if err != nil {
		return nil, err
	}
	if err := g.AddEdges([]*task.Node{email, password}, collect); err != nil {
		return nil, err
	}
	return g, nil
}

// Login is a manual graph that reads "email" and "password" kwargs, runs
// Validate as a sub-graph and reports the outcome.
func Login(out io.Writer, opts ...graph.Option) (*graph.Graph, error) {
	validate, err := Validate(opts...)
	if err != nil {
		return nil, err
	}
	creds := task.New("credentials", func(ctx context.Context, in task.Args) (any, error) {
		return map[string]any{"email": in.Get("email"), "password": in.Get("password")}, nil
	}, task.WithVariadic())
	check := validate.AsTask("validate")
	report := task.New("report", func(ctx context.Context, in task.Args) (any, error) {
		ok, _ := in.Get("validate").(bool)
		if ok {
			fmt.Fprintln(out, "access granted")
		} else {
			fmt.Fprintln(out, "access denied")
		}
		return ok, nil
	}, task.WithInputs("validate"))

	g, err := graph.New("login workflow", graph.Manual, opts...)
	if err != nil {
		return nil, err
	}
	if err := g.AddEdge(creds, check); err != nil {
		return nil, err
	}
	if err := g.AddEdge(check, report); err != nil {
		return nil, err
	}
	return g, nil
}
