package token

type TokenType string

type Token struct {
	Type    TokenType
	Literal string
	Line    int
	Column  int
}

const (
	ILLEGAL = "ILLEGAL"
	EOF     = "EOF"

	// Identifiers + Literals
	IDENT  = "IDENT"  // droid, CALL_OBJECT_DESTROYED
	INT    = "INT"    // 123, 0xff
	STRING = "STRING" // "abc"

	// Operators and Delimiters
	ASSIGN    = "="
	PLUS      = "+"
	MINUS     = "-"
	ASTERISK  = "*"
	SLASH     = "/"
	PERCENT   = "%"
	DOT       = "."
	COMMA     = ","
	SEMICOLON = ";"
	LPAREN    = "("
	RPAREN    = ")"
	LBRACE    = "{"
	RBRACE    = "}"
	LBRACKET  = "["
	RBRACKET  = "]"

	BANG   = "!"
	EQ     = "=="
	NOT_EQ = "!="
	LT     = "<"
	GT     = ">"
	LTE    = "<="
	GTE    = ">="
	AND    = "AND"
	OR     = "OR"

	// Keywords
	PUBLIC     = "PUBLIC"
	PRIVATE    = "PRIVATE"
	LOCAL      = "LOCAL"
	TRIGGER    = "TRIGGER"
	EVENT      = "EVENT"
	FUNCTION   = "FUNCTION"
	IF         = "IF"
	ELSE       = "ELSE"
	WHILE      = "WHILE"
	RETURN     = "RETURN"
	EXIT       = "EXIT"
	PAUSE      = "PAUSE"
	REF        = "REF"
	TRUE       = "TRUE"
	FALSE      = "FALSE"
	NOT        = "NOT"
	EVERY      = "EVERY"
	WAIT       = "WAIT"
	INIT       = "INIT"
	INACTIVE   = "INACTIVE"
	SETTRIGGER = "SETTRIGGER"
)

var keywords = map[string]TokenType{
	"public":          PUBLIC,
	"private":         PRIVATE,
	"local":           LOCAL,
	"trigger":         TRIGGER,
	"event":           EVENT,
	"function":        FUNCTION,
	"if":              IF,
	"else":            ELSE,
	"while":           WHILE,
	"return":          RETURN,
	"exit":            EXIT,
	"pause":           PAUSE,
	"ref":             REF,
	"true":            TRUE,
	"TRUE":            TRUE,
	"false":           FALSE,
	"FALSE":           FALSE,
	"not":             NOT,
	"and":             AND,
	"or":              OR,
	"every":           EVERY,
	"wait":            WAIT,
	"init":            INIT,
	"inactive":        INACTIVE,
	"setEventTrigger": SETTRIGGER,
}

func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT
}
