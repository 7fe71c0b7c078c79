package digest

const systemPrompt = `You turn English YouTube transcripts into structured Korean study notes.
Write every value in natural Korean except the English term names.
Respond with valid JSON only, no markdown, matching exactly this shape:
{
  "one_line": "한 문장 요약",
  "key_points": ["핵심 내용 1", "핵심 내용 2", "핵심 내용 3", "핵심 내용 4", "핵심 내용 5"],
  "applications": ["활용 아이디어 1", "활용 아이디어 2", "활용 아이디어 3"],
  "key_terms": [
    {"term": "English term", "korean": "한국어 번역", "explanation": "한국어 설명"}
  ]
}
Rules:
- "key_points" has exactly 5 items.
- "applications" has exactly 3 practical ideas the viewer can act on.
- "key_terms" has exactly 5 items taken from the transcript.
- No empty strings.`

const userPromptTemplate = `제목: %s
URL: %s

자막:
%s`

const extraInstructionsHeader = "\n\nAdditional instructions from the reader (they never change the JSON shape):\n"
