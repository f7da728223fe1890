// Package lang owns language codes for the portal: the output-language
// directive appended to model prompts and the locale tags used by the
// speech services.
package lang

// Code is a two-letter portal language code.
type Code = string

// Default is the base language; prompts in the base language carry no
// directive and speech falls back to its locale.
const Default Code = "en"

// names maps recognized codes to the language name used inside the
// model directive.
var names = map[Code]string{
	"en": "English", "hi": "Hindi", "bn": "Bengali", "te": "Telugu",
	"mr": "Marathi", "ta": "Tamil", "ur": "Urdu", "gu": "Gujarati",
	"kn": "Kannada", "ml": "Malayalam", "pa": "Punjabi", "or": "Odia",
	"as": "Assamese",
}

// speechLocales maps codes to the locale tag handed to speech synthesis.
var speechLocales = map[Code]string{
	"en": "en-IN", "hi": "hi-IN", "bn": "bn-IN", "ta": "ta-IN",
	"te": "te-IN", "mr": "mr-IN", "gu": "gu-IN", "kn": "kn-IN",
	"ml": "ml-IN", "pa": "pa-IN", "ur": "ur-PK",
}

// recognitionLocales maps codes to the locale tag used for single-shot
// speech recognition. Unlike synthesis, Urdu recognition uses the Indian
// locale.
var recognitionLocales = map[Code]string{
	"en": "en-IN", "hi": "hi-IN", "bn": "bn-IN", "te": "te-IN",
	"mr": "mr-IN", "ta": "ta-IN", "ur": "ur-IN", "gu": "gu-IN",
	"kn": "kn-IN", "ml": "ml-IN", "pa": "pa-IN", "or": "or-IN",
	"as": "as-IN",
}

// Name returns the display name for a code, defaulting to English.
func Name(code Code) string {
	if n, ok := names[code]; ok {
		return n
	}
	return names[Default]
}

// Recognized reports whether code is one of the portal languages.
func Recognized(code Code) bool {
	_, ok := names[code]
	return ok
}

// Directive returns the instruction fragment appended to every system
// prompt so the model answers in the caller's language and script. The
// base language and any unrecognized code yield an empty fragment.
func Directive(code Code) string {
	name, ok := names[code]
	if !ok || code == Default {
		return ""
	}
	return " MANDATORY: You must write EVERYTHING strictly in the " + name +
		" language and using the " + name +
		" script. Do not use English words unless absolutely necessary."
}

// SpeechLocale returns the synthesis locale tag for code, en-IN when the
// code has no mapped voice.
func SpeechLocale(code Code) string {
	if l, ok := speechLocales[code]; ok {
		return l
	}
	return "en-IN"
}

// RecognitionLocale returns the recognition locale tag for code, en-IN
// when unmapped.
func RecognitionLocale(code Code) string {
	if l, ok := recognitionLocales[code]; ok {
		return l
	}
	return "en-IN"
}
