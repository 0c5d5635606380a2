package query

import (
	"fmt"
	"strings"
)

// gapAnalysisPrompt は集めた文脈で回答に足りるかをLLMに判定させます
const gapAnalysisPrompt = `You are evaluating whether the provided context is sufficient to answer a question about a personal document archive.

Question: %s

Context:
%s

Respond in JSON:
{
  "sufficient": true or false,
  "follow_up_queries": ["short search query 1", "short search query 2"]
}

If the context already answers the question, set "sufficient" to true and leave "follow_up_queries" empty. Otherwise list up to 3 short, targeted search queries that would retrieve the missing information.`

// synthesisPrompt は最終回答の生成テンプレート
const synthesisPrompt = `You are a knowledge assistant with access to a personal document archive.
Answer the following question based on the provided context from documents and a knowledge graph.

Be specific, cite document details when possible, and say "I don't have enough information" if the context doesn't contain the answer.
%s
Question: %s

Document context:
%s
%s
Answer:`

// buildSynthesisPrompt は検索結果と会話履歴から合成プロンプトを組み立てます
func buildSynthesisPrompt(question string, ret *retrieval, history []Turn) string {
	historyText := ""
	if len(history) > 0 {
		var sb strings.Builder
		sb.WriteString("\nPrevious conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&sb, "Q: %s\nA: %s\n", turn.Question, turn.Answer)
		}
		historyText = sb.String()
	}

	graphText := ""
	if graphContext := ret.graphContext(); graphContext != "" {
		graphText = "\nGraph context:\n" + graphContext + "\n"
	}

	return fmt.Sprintf(synthesisPrompt, historyText, question, ret.documentContext(), graphText)
}
