// Package main is the tarpit CLI: it serves the tarpit, trains the Markov
// model from corpora and prints sample output.
//
// Usage:
//
//	tarpit serve
//	tarpit train corpus.txt.gz
//	tarpit generate --sentences 5
//	tarpit runs --limit 5
package main

func main() {
	Execute()
}
