package models

// Message описывает исходящее письмо: API публикует его в брокер, воркер отправляет.
type Message struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	HTML    bool   `json:"html,omitempty"`
}
