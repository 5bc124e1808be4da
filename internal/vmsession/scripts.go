package vmsession

import (
	"fmt"
	"strings"
)

// Every script is a single expression that evaluates to a string so the view
// never has to deal with undefined results.

// ClearStorageScript wipes local/session storage and the page's cookies so
// VDI credentials do not outlive a load.
const ClearStorageScript = `(function () {
  try { localStorage.clear(); } catch (e) {}
  try { sessionStorage.clear(); } catch (e) {}
  try {
    document.cookie.split(';').forEach(function (c) {
      var name = c.split('=')[0].trim();
      if (name) {
        document.cookie = name + '=; expires=Thu, 01 Jan 1970 00:00:00 GMT; path=/';
      }
    });
  } catch (e) {}
  return '';
})()`

// ResizeReloadScript reloads the page 500ms after the last resize so the
// remote display renegotiates its resolution. Installing it twice is a no-op.
const ResizeReloadScript = `(function () {
  if (window.__kolbehResizeHooked) { return ''; }
  window.__kolbehResizeHooked = true;
  window.addEventListener('resize', function () {
    clearTimeout(window.__kolbehReloadTimeout);
    window.__kolbehReloadTimeout = setTimeout(function () {
      location.reload();
    }, 500);
  });
  return '';
})()`

// ClickHomeScript clicks the "return to home" button of the VDI disconnect
// notification when present. It evaluates to "clicked" when it did.
const ClickHomeScript = `(function () {
  var buttons = document.querySelectorAll('.notification button, .guac-notification button, button.home');
  for (var i = 0; i < buttons.length; i++) {
    var label = (buttons[i].textContent || '').trim().toLowerCase();
    if (label.indexOf('home') !== -1 || buttons[i].classList.contains('home')) {
      buttons[i].click();
      return 'clicked';
    }
  }
  return '';
})()`

// SelectionScript returns the selected text of the page or of the focused
// input. With cut set the selection is removed afterwards.
func SelectionScript(cut bool) string {
	action := ""
	if cut {
		action = "if (text) { document.execCommand('delete'); }"
	}
	return `(function () {
  var text = window.getSelection ? window.getSelection().toString() : '';
  var el = document.activeElement;
  if (!text && el && typeof el.value === 'string' && typeof el.selectionStart === 'number') {
    text = el.value.substring(el.selectionStart, el.selectionEnd);
  }
  ` + action + `
  return text;
})()`
}

// PasteScript inserts text at the focused element, or dispatches a paste
// event for pages (such as the VDI canvas) that read the clipboard event.
func PasteScript(text string) string {
	return fmt.Sprintf(`(function () {
  var t = '%s';
  var el = document.activeElement;
  if (el && (el.isContentEditable || typeof el.value === 'string')) {
    document.execCommand('insertText', false, t);
    return '';
  }
  try {
    var dt = new DataTransfer();
    dt.setData('text/plain', t);
    (el || document).dispatchEvent(new ClipboardEvent('paste', { clipboardData: dt, bubbles: true }));
  } catch (e) {}
  return '';
})()`, EscapeScriptString(text))
}

// ClipboardHookScript reports Ctrl+C/X/V key presses to the host through the
// binding function named binding. Paste is swallowed because the host
// injects the text itself.
func ClipboardHookScript(binding string) string {
	return fmt.Sprintf(`(function () {
  if (window.__kolbehClipboardHooked) { return ''; }
  window.__kolbehClipboardHooked = true;
  window.addEventListener('keydown', function (e) {
    if (!(e.ctrlKey || e.metaKey) || typeof window.%[1]s !== 'function') { return; }
    var k = (e.key || '').toLowerCase();
    if (k === 'c') { window.%[1]s('copy'); }
    else if (k === 'x') { window.%[1]s('cut'); }
    else if (k === 'v') { e.preventDefault(); window.%[1]s('paste'); }
  }, true);
  return '';
})()`, binding)
}

var scriptEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	"\r", `\r`,
	"\n", `\n`,
)

// EscapeScriptString makes text safe to place inside a single-quoted JS
// string literal. Only backslashes, single quotes and line breaks are
// escaped; other characters (e.g. U+2028, "</script>") pass through.
func EscapeScriptString(text string) string {
	return scriptEscaper.Replace(text)
}
