package taskbag

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownBag       = errors.New("no bag registered under that name")
	ErrUnexpectedRoute  = errors.New("unexpected route")
	ErrResponseMismatch = errors.New("response does not match request")
)

// sendIntroduction asks the remote end for the bag registered under name.
func sendIntroduction(conn *Conn, id, name string) error {
	req := &Request{Route: RouteIntroduce, ID: id, Name: name}
	if err := conn.WriteFrame(req.Marshal()); err != nil {
		return fmt.Errorf("writing: %w", err)
	}
	return nil
}

// receiveIntroduction reads the introduction and verifies the requested name
// against the served one. The verdict is sent back in both cases.
func receiveIntroduction(conn *Conn, served string) error {
	payload, err := conn.ReadFrame()
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	var req Request
	if err := req.Unmarshal(payload); err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}
	if req.Route != RouteIntroduce {
		return fmt.Errorf("%w: %s", ErrUnexpectedRoute, req.Route)
	}

	resp := &Response{ID: req.ID, OK: true}
	var verdict error
	if req.Name != served {
		verdict = fmt.Errorf("%w: %q", ErrUnknownBag, req.Name)
		resp = &Response{ID: req.ID, Err: verdict.Error()}
	}
	if err := conn.WriteFrame(resp.Marshal()); err != nil {
		return fmt.Errorf("writing verdict: %w", err)
	}
	return verdict
}

// awaitIntroduction reads the verdict of an introduction sent with id.
func awaitIntroduction(conn *Conn, id string) error {
	payload, err := conn.ReadFrame()
	if err != nil {
		return fmt.Errorf("reading payload: %w", err)
	}
	var resp Response
	if err := resp.Unmarshal(payload); err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}
	if resp.ID != id {
		return ErrResponseMismatch
	}
	if !resp.OK {
		return &RemoteError{Route: RouteIntroduce, Message: resp.Err}
	}
	return nil
}
