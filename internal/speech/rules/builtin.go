package rules

import (
	"strings"

	"github.com/MrWong99/talkback/internal/speech"
)

// PauseMarker is the spoken pause inserted after sentence-terminal
// punctuation. Whitespace normalisation folds any run of two or more dots
// into exactly this marker.
const PauseMarker = "..."

type pair struct{ from, to string }

// ── American ─────────────────────────────────────────────────────────────────

var americanPhonetic = []pair{
	{"data", "day-tuh"},
	{"route", "rowt"},
	{"via", "vye-uh"},
	{"niche", "nitch"},
	{"either", "ee-ther"},
}

// "Hey" goes first: "Hello" becomes "Hey there man", which the "Hey" rule
// would otherwise rewrite again.
var americanGreetings = []pair{
	{"Hey", "Hey buddy"},
	{"Hi", "What's up dude"},
	{"Hello", "Hey there man"},
}

var americanIdioms = []pair{
	// responses
	{"You're welcome", "No problem man"},
	{"Okay", "Alright"},
	{"Yes", "Yeah definitely"},
	{"No", "Nah man"},
	// fillers
	{"very good", "pretty solid"},
	{"that's right", "exactly right dude"},
	{"that's correct", "spot on man"},
	{"I think", "I figure"},
	{"really", "totally"},
	{"actually", "honestly"},
	{"of course", "absolutely man"},
	{"maybe", "probably"},
	{"definitely", "for sure"},
	// expressions
	{"awesome", "pretty cool"},
	{"great", "solid"},
	{"wonderful", "fantastic"},
	{"excellent", "outstanding"},
	{"amazing", "incredible man"},
	{"incredible", "unbelievable dude"},
}

// ── Filipino ─────────────────────────────────────────────────────────────────

var filipinoPhonetic = []pair{
	{"ng", "nang"},
	{"tayo", "tah-yo"},
	{"kayo", "kah-yo"},
	{"siya", "shya"},
	{"sila", "shla"},
	{"ito", "ee-to"},
	{"iyan", "ee-yan"},
	{"iyon", "ee-yon"},
	{"dito", "dee-to"},
	{"doon", "do-on"},
	{"rito", "ree-to"},
	{"roon", "ro-on"},
}

var filipinoGreetings = []pair{
	{"Hello", "Hoy, kumusta brad"},
	{"Hi", "Oy, kamusta pre"},
	{"Hey", "Tsong, ano meron"},
	{"Good morning", "Magandang umaga tsong"},
	{"Good afternoon", "Magandang hapon pare"},
	{"Good evening", "Magandang gabi boss"},
}

var filipinoIdioms = []pair{
	// responses
	{"Thank you", "Salamat tsong"},
	{"Thanks", "Salamat pre"},
	{"You're welcome", "Walang anuman brad"},
	{"Excuse me", "Excuse me lang boss"},
	{"Sorry", "Pasensya na pare"},
	{"Yes", "Oo nga"},
	{"No", "Hindi naman"},
	{"Okay", "Sige lang"},
	{"Alright", "Ayos lang yan"},
	// fillers
	{"very good", "galing naman niyan"},
	{"that's right", "tama nga yan tsong"},
	{"that's correct", "eksakto yan pre"},
	{"I think", "Sa palagay ko kase"},
	{"I believe", "Naniniwala ako na"},
	{"because", "kase eh"},
	{"but", "pero naman"},
	{"actually", "actually kase"},
	{"really", "talaga nga yan"},
	{"of course", "syempre naman tsong"},
	{"maybe", "baka nga"},
	{"probably", "siguro nga"},
	{"definitely", "sigurado yan"},
	// expressions
	{"awesome", "galing naman"},
	{"great", "solid yan"},
	{"wonderful", "ganda naman"},
	{"excellent", "perfect yan"},
	{"amazing", "ang galing naman"},
	{"incredible", "hindi makapaniwala"},
}

var filipinoTechTerms = []pair{
	{"computer", "kom-pyu-ter"},
	{"internet", "in-ter-net"},
	{"website", "web-site"},
	{"email", "ee-meyl"},
	{"Facebook", "Feys-buk"},
	{"Google", "Gu-gol"},
	{"YouTube", "Yu-Tyub"},
	{"smartphone", "smart-pon"},
	{"application", "ap-li-key-shun"},
}

var filipinoWords = []pair{
	{"money", "pera"},
	{"food", "pagkain"},
	{"water", "tubig"},
	{"house", "bahay"},
	{"family", "pamilya"},
	{"friend", "kaibigan"},
	{"work", "trabaho"},
	{"school", "eskwelahan"},
}

// filipinoEnders tag sentence ends. The generic enders run before the tag
// questions, so "right?" is only rewritten at the very end of the text.
func filipinoEnders() []Rule {
	return []Rule{
		Exact("filipino/idiom/ender-period", CategoryIdiom, ". ", " eh. "),
		Exact("filipino/idiom/ender-question", CategoryIdiom, "? ", " ba? "),
		Exact("filipino/idiom/ender-exclaim", CategoryIdiom, "! ", " talaga! "),
		Regexp("filipino/idiom/tag-right", CategoryIdiom, `(?i)\bright\?`, "tama ba?"),
		Regexp("filipino/idiom/tag-isnt-it", CategoryIdiom, `(?i)\bisn't it\?`, "hindi ba?"),
		Regexp("filipino/idiom/tag-you-know", CategoryIdiom, `(?i)\byou know\?`, "alam mo ba?"),
		Regexp("filipino/idiom/tag-understand", CategoryIdiom, `(?i)\bdo you understand\?`, "gets mo ba?"),
	}
}

// ── Common ───────────────────────────────────────────────────────────────────

// markupRules strip formatting. The fenced block goes first so inline-code
// handling never sees a triple backtick. HTML tags go before the symbol
// stage, which would otherwise spell out their angle brackets.
func markupRules() []Rule {
	return []Rule{
		Regexp("common/markup/fenced-code", CategoryMarkup, "(?s)```.*?```", " code block "),
		Regexp("common/markup/bold", CategoryMarkup, `\*\*(.+?)\*\*`, "${1}"),
		Regexp("common/markup/bold-underscore", CategoryMarkup, `__(.+?)__`, "${1}"),
		Regexp("common/markup/italic", CategoryMarkup, `\*([^*\n]+)\*`, "${1}"),
		Regexp("common/markup/inline-code", CategoryMarkup, "`([^`\n]*)`", "${1}"),
		Regexp("common/markup/link", CategoryMarkup, `\[([^\]]*)\]\([^)]*\)`, "${1}"),
		Regexp("common/markup/html-tag", CategoryMarkup, `</?[A-Za-z][^<>]*>`, ""),
		Regexp("common/markup/italic-underscore", CategoryMarkup, `\b_([^_\n]+)_\b`, "${1}"),
		Regexp("common/markup/heading", CategoryMarkup, `(?m)^[ \t]*#{1,6}[ \t]+`, ""),
		Regexp("common/markup/strikethrough", CategoryMarkup, `~~(.+?)~~`, "${1}"),
		Regexp("common/markup/stray", CategoryMarkup, "[*`]+|~~", ""),
	}
}

func rhythmRules() []Rule {
	return []Rule{
		Regexp("common/rhythm/period", CategoryRhythm, `\.[ \t\n]+`, PauseMarker+" "),
		Regexp("common/rhythm/question", CategoryRhythm, `\?[ \t\n]+`, "?"+PauseMarker+" "),
		Regexp("common/rhythm/exclaim", CategoryRhythm, `![ \t\n]+`, "!"+PauseMarker+" "),
	}
}

var acronyms = []pair{
	{"AI", "A I"},
	{"API", "A P I"},
	{"URL", "U R L"},
	{"HTML", "H T M L"},
	{"CSS", "C S S"},
	{"JS", "JavaScript"},
	{"PHP", "P H P"},
	{"SQL", "S Q L"},
	{"JSON", "J S O N"},
	{"XML", "X M L"},
	{"HTTP", "H T T P"},
	{"HTTPS", "H T T P S"},
}

// SpokenAcronyms returns the acronyms the common stage spells out.
func SpokenAcronyms() []string {
	out := make([]string, len(acronyms))
	for i, a := range acronyms {
		out[i] = a.from
	}
	return out
}

func symbolRules() []Rule {
	am, ph := speech.American, speech.Filipino
	return []Rule{
		Regexp("common/symbol/percent-number", CategorySymbol, `(\d+(?:\.\d+)?)\s*%`, "${1} percent"),
		Exact("common/symbol/percent", CategorySymbol, "%", " percent "),
		Regexp("common/symbol/currency-amount", CategorySymbol, `\$\s?(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)`, "${1} dollars").For(am),
		Regexp("common/symbol/currency-amount", CategorySymbol, `\$\s?(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)`, "${1} piso").For(ph),
		Exact("common/symbol/currency", CategorySymbol, "$", " dollars ").For(am),
		Exact("common/symbol/currency", CategorySymbol, "$", " piso ").For(ph),
		Exact("common/symbol/at", CategorySymbol, "@", " at "),
		Exact("common/symbol/ampersand", CategorySymbol, "&", " and ").For(am),
		Exact("common/symbol/ampersand", CategorySymbol, "&", " at ").For(ph),
		Exact("common/symbol/hash", CategorySymbol, "#", " hash ").For(am),
		Exact("common/symbol/hash", CategorySymbol, "#", " hashtag ").For(ph),
		Exact("common/symbol/plus", CategorySymbol, "+", " plus "),
		Exact("common/symbol/equals", CategorySymbol, "=", " equals "),
		Exact("common/symbol/less-than", CategorySymbol, "<", " less than "),
		Exact("common/symbol/greater-than", CategorySymbol, ">", " greater than "),
	}
}

func pictographRules() []Rule {
	am, ph := speech.American, speech.Filipino
	silent := []string{":)", ":(", ";)", ":D", "😊", "😂", "🤔", "👍", "🙂", "😀", "😉", "🎉", "❤\uFE0F", "❤"}
	out := make([]Rule, 0, len(silent)+10)
	for _, s := range silent {
		out = append(out, Exact("common/pictograph/silent"+s, CategoryPictograph, s, ""))
	}
	return append(out,
		Exact("common/pictograph/error", CategoryPictograph, "❌", "Error: ").For(am),
		Exact("common/pictograph/error", CategoryPictograph, "❌", "May error: ").For(ph),
		Exact("common/pictograph/success", CategoryPictograph, "✅", "Success: "),
		Regexp("common/pictograph/warning", CategoryPictograph, "⚠\uFE0F?", "Warning: "),
		Exact("common/pictograph/fire", CategoryPictograph, "🔥", "awesome: ").For(am),
		Exact("common/pictograph/fire", CategoryPictograph, "🔥", "sulit yan: ").For(ph),
		Exact("common/pictograph/strong", CategoryPictograph, "💪", "strong: ").For(am),
		Exact("common/pictograph/strong", CategoryPictograph, "💪", "malakas yan: ").For(ph),
		Exact("common/pictograph/variation-selector", CategoryPictograph, "\uFE0F", ""),
	)
}

func whitespaceRules() []Rule {
	return []Rule{
		Regexp("common/whitespace/collapse", CategoryWhitespace, `\s+`, " "),
		Regexp("common/whitespace/dots", CategoryWhitespace, `\.{2,}`, PauseMarker),
		Regexp("common/whitespace/exclaims", CategoryWhitespace, `!{2,}`, "!"),
		Regexp("common/whitespace/questions", CategoryWhitespace, `\?{2,}`, "?"),
		Regexp("common/whitespace/trim", CategoryWhitespace, `^\s+|\s+$`, ""),
	}
}

// ── Assembly ─────────────────────────────────────────────────────────────────

func words(prefix string, cat Category, ps []pair) []Rule {
	out := make([]Rule, len(ps))
	for i, p := range ps {
		out[i] = Word(prefix+"/"+string(cat)+"/"+slug(p.from), cat, p.from, p.to)
	}
	return out
}

func greetings(prefix string, ps []pair) []Rule {
	out := make([]Rule, len(ps))
	for i, p := range ps {
		out[i] = Anchored(prefix+"/greeting/"+slug(p.from), CategoryGreeting, p.from, p.to)
	}
	return out
}

func slug(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "'", "")
	return strings.ReplaceAll(s, " ", "-")
}

// Default returns a new registry loaded with the built-in rule set. Each call
// returns an independent registry that callers may extend.
func Default() *Registry {
	r := NewRegistry()

	var am []Rule
	am = append(am, words("american", CategoryPhonetic, americanPhonetic)...)
	am = append(am, greetings("american", americanGreetings)...)
	am = append(am, words("american", CategoryIdiom, americanIdioms)...)

	var ph []Rule
	ph = append(ph, words("filipino", CategoryPhonetic, filipinoPhonetic)...)
	ph = append(ph, greetings("filipino", filipinoGreetings)...)
	ph = append(ph, words("filipino", CategoryIdiom, filipinoIdioms)...)
	ph = append(ph, words("filipino", CategoryPhonetic, filipinoTechTerms)...)
	ph = append(ph, words("filipino", CategoryIdiom, filipinoWords)...)
	ph = append(ph, filipinoEnders()...)

	var common []Rule
	common = append(common, markupRules()...)
	common = append(common, rhythmRules()...)
	for _, a := range acronyms {
		common = append(common, Acronym("common/abbreviation/"+strings.ToLower(a.from), a.from, a.to))
	}
	common = append(common, symbolRules()...)
	common = append(common, pictographRules()...)
	common = append(common, whitespaceRules()...)

	// The built-in tables are static; a failure here is a programming error.
	must(r.AddVariant(speech.American, am...))
	must(r.AddVariant(speech.Filipino, ph...))
	must(r.AddCommon(common...))
	return r
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
