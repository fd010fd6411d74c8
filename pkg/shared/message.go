package shared

// MessageType definiert den Typ einer Nachricht für die WebSocket-Kommunikation.
type MessageType int

// Konstanten für MessageType, angepasst an Frontend-Erwartungen
const (
	MessageTypeText         MessageType = 0  // Textausgabe (Server) / Quellzeile (Client)
	MessageTypeGraphics     MessageType = 4  // Grafikbefehl (CELL)
	MessageTypeSession      MessageType = 8  // Session-ID und Reattach-Token
	MessageTypeInputControl MessageType = 9  // Eingabesteuerung (aktivieren/deaktivieren)
	MessageTypeKeyDown      MessageType = 16 // Taste gedrückt (für key)
	MessageTypeLoad         MessageType = 32 // Gespeichertes Programm laden
	MessageTypeSave         MessageType = 33 // Sitzungsverlauf als Programm speichern
	MessageTypeList         MessageType = 34 // Gespeicherte Programme auflisten
	MessageTypeDelete       MessageType = 35 // Gespeichertes Programm löschen
)

// Known reports whether t is a type a client may send.
func (t MessageType) Known() bool {
	switch t {
	case MessageTypeText, MessageTypeKeyDown,
		MessageTypeLoad, MessageTypeSave, MessageTypeList, MessageTypeDelete:
		return true
	}
	return false
}

// Input-Control Inhalte
const (
	InputDisable = "disable"
	InputEnable  = "enable"
)

// Grafikbefehle
const (
	GraphicsCommandCell = "CELL"
)

// Message repräsentiert eine Nachricht vom Server an den Browser.
type Message struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
	// Für TEXT - verhindert automatischen Zeilenumbruch im Frontend
	NoNewline bool `json:"noNewline"`

	// Für SESSION
	SessionID string `json:"sessionId,omitempty"`

	// Für GRAPHICS: command + params, z.B. CELL {x, y, value}
	Command string                 `json:"command,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`

	// Für INPUT_CONTROL
	InputEnabled *bool `json:"inputEnabled,omitempty"`
}

// Request ist eine Nachricht vom Browser an den Server.
type Request struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
	// Für KEYDOWN: Browser-Tastenname ("ArrowUp", " ", "a", ...)
	Key string `json:"key,omitempty"`
	// Reattach-Token, alternativ zu ?token=
	Token string `json:"token,omitempty"`
}

// TextMessage builds an output chunk; chunks never force a line break.
func TextMessage(content string) Message {
	return Message{Type: MessageTypeText, Content: content, NoNewline: true}
}

// LineMessage builds a complete output line.
func LineMessage(content string) Message {
	return Message{Type: MessageTypeText, Content: content}
}

// CellMessage reports a store into the graphics grid.
func CellMessage(x, y, value int) Message {
	return Message{
		Type:    MessageTypeGraphics,
		Command: GraphicsCommandCell,
		Params:  map[string]interface{}{"x": x, "y": y, "value": value},
	}
}

// InputControlMessage enables or disables the browser's input line.
func InputControlMessage(enabled bool) Message {
	content := InputDisable
	if enabled {
		content = InputEnable
	}
	return Message{Type: MessageTypeInputControl, Content: content, InputEnabled: &enabled}
}
