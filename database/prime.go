package database

import _ "embed"

// PrimeRole is the role granted to the application user by prime-db.
const PrimeRole = "toolhive_imagegen_server"

//go:embed prime.sql.tmpl
var primeTemplate []byte

// GetPrimeTemplate returns the text/template that creates PrimeRole and the
// application user. It expects Role, UserLiteral, UserIdent and Password, already escaped.
func GetPrimeTemplate() []byte {
	return primeTemplate
}
