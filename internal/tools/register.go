package tools

import (
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Register registers the corpus and Wikipedia search tools with Genkit
// and returns them for ai.WithTools.
func Register(g *genkit.Genkit, corpus *Corpus, wikipedia *Wikipedia) ([]ai.Tool, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if corpus == nil {
		return nil, fmt.Errorf("corpus handler is required")
	}
	if wikipedia == nil {
		return nil, fmt.Errorf("wikipedia handler is required")
	}

	return []ai.Tool{
		genkit.DefineTool(g, SearchCorpusName,
			"Search the local biomedical literature corpus using semantic similarity. "+
				"Returns the most relevant passages with source IDs and similarity scores. "+
				"Always try this tool first when answering a question.",
			corpus.Search),
		genkit.DefineTool(g, SearchWikipediaName,
			"Search Wikipedia for background information. "+
				"Returns article titles, snippets, and URLs. "+
				"Use this only when the corpus has no relevant passages.",
			wikipedia.Search),
	}, nil
}
