package router

import (
	"fmt"
	"time"
)

// request is the inbound client envelope. Every message carries a cmd;
// the remaining fields are per-command parameters.
type request struct {
	Cmd     string `json:"cmd"`
	Token   string `json:"token,omitempty"`
	Dir     string `json:"dir,omitempty"`
	Command string `json:"command,omitempty"`
}

type errorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type authResponse struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type moveResponse struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Direction string `json:"direction"`
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

type statusResponse struct {
	Type                 string `json:"type"`
	ArduinoConnected     bool   `json:"arduino_connected"`
	Authenticated        bool   `json:"authenticated"`
	ClientsConnected     int    `json:"clients_connected"`
	ClientsAuthenticated int    `json:"clients_authenticated"`
	Timestamp            string `json:"timestamp"`
}

type pongResponse struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

type rawResponse struct {
	Type      string `json:"type"`
	Success   bool   `json:"success"`
	Command   string `json:"command"`
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

func errorf(format string, args ...any) errorResponse {
	return errorResponse{Type: "error", Message: fmt.Sprintf(format, args...)}
}

func timestamp() string {
	return time.Now().Format(time.RFC3339)
}
