package syntax

// TokKind enumerates lexical token categories. Words carry their own
// structured parts (see Word/WordPart in ast.go); TokKind only needs to
// distinguish operators, reserved words, and the boundary between them.
type TokKind int

const (
	EOF TokKind = iota
	Word
	AndAnd     // &&
	OrOr       // ||
	And        // &
	Or         // |
	OrAnd      // |&
	Semi       // ;
	DblSemi    // ;;
	SemiAnd    // ;&
	DblSemiAnd // ;;&
	Newline
	LParen  // (
	RParen  // )
	LBrace  // {
	RBrace  // }
	DblLBrack // [[
	DblRBrack // ]]
	DblLParen // ((
	DblRParen // ))
	Less      // <
	Great     // >
	DLess     // <<
	DLessDash // <<-
	DGreat    // >>
	Clobber   // >|
	LessAnd   // <&
	GreatAnd  // >&
	DLessLess // <<<
	RdrAll    // &>
	AppAll    // &>>
	Bang      // !

	// Reserved words, recognized only at command-start position.
	If
	Then
	Elif
	Else
	Fi
	While
	Until
	Do
	Done
	For
	In
	Case
	Esac
	Function
	Select
	Time
)

var reservedWords = map[string]TokKind{
	"if": If, "then": Then, "elif": Elif, "else": Else, "fi": Fi,
	"while": While, "until": Until, "do": Do, "done": Done,
	"for": For, "in": In, "case": Case, "esac": Esac,
	"function": Function, "select": Select, "time": Time,
	"!": Bang,
}
