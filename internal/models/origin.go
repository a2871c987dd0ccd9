package models

// Origin — контекст источника запроса, сопровождающий операции аутентификации.
// Пустые поля допустимы: контекст заполняется по мере доступности данных
// на транспортном уровне.
type Origin struct {
	IP        string
	UserAgent string
	DeviceID  string
}
