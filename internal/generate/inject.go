package generate

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// screenshotScript はゲーム側からサムネイルを報告させるスクリプト。
// iframe内で読み込まれた後、最初の描画が落ち着いたタイミングで
// canvasの内容をdata URLにして親へpostMessageする。
const screenshotScript = `<script>
(function() {
  function capture() {
    try {
      var canvas = document.querySelector('canvas');
      if (!canvas) return;
      var data = canvas.toDataURL('image/png');
      window.parent.postMessage({ type: 'SCREENSHOT', data: data }, '*');
    } catch (e) {
      // canvasが汚染されている場合などは黙って諦める
    }
  }
  window.addEventListener('load', function() {
    setTimeout(capture, 3000);
  });
})();
</script>`

var bodyCloseRe = regexp.MustCompile(`(?i)</body>`)

// InjectScreenshotScript はスクリーンショット報告スクリプトを成果物に
// 注入する。</body>の直前に入れ、見つからない場合は末尾に追加する。
// 注入を省略することはない。
// タグの探索は元の文字列に対して大文字小文字を無視して行う。
// ToLowerした文字列のインデックスは多バイト文字の折り畳みでずれるため使えない。
func InjectScreenshotScript(artifact string) string {
	matches := bodyCloseRe.FindAllStringIndex(artifact, -1)
	if matches == nil {
		return artifact + "\n" + screenshotScript
	}
	idx := matches[len(matches)-1][0]
	return artifact[:idx] + screenshotScript + "\n" + artifact[idx:]
}

// ValidateArtifact は成果物が実行可能なゲームの体裁であることを確認する。
// HTMLとして解析でき、script要素を少なくとも1つ含むことを要求する。
// 空文字列や素のテキストだけの出力をここで弾く。
func ValidateArtifact(artifact string) bool {
	if strings.TrimSpace(artifact) == "" {
		return false
	}

	doc, err := html.Parse(strings.NewReader(artifact))
	if err != nil {
		return false
	}

	return hasScriptElement(doc)
}

func hasScriptElement(n *html.Node) bool {
	if n.Type == html.ElementNode && n.Data == "script" {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasScriptElement(c) {
			return true
		}
	}
	return false
}
