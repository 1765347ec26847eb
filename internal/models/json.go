package models

// JSON carries loosely structured event payloads between services and the
// notification queue. It is never stored as a database column.
type JSON map[string]interface{}
