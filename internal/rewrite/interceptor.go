package rewrite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"
)

// interceptorTemplate patches fetch, XMLHttpRequest.open, window.open and
// location.href so that script-initiated requests go through the proxy.
// resolve mirrors Context.Resolve and the prefix/encodeURIComponent pair
// mirrors addressing.Scheme.Encode. References already carrying an encoded
// absolute target are left alone; a site's own path that merely starts with
// the prefix is still rewritten.
var interceptorTemplate = template.Must(template.New("interceptor").Funcs(template.FuncMap{
	"js": jsString,
}).Parse(`<script data-rewrite-proxy="interceptor">
(function (proxyOrigin, prefix, baseURL) {
  var base = new URL(baseURL);
  function resolve(ref) {
    if (ref.indexOf("//") === 0) { return base.protocol + ref; }
    if (ref.charAt(0) === "/") { return base.origin + ref; }
    if (ref.indexOf("http") === 0) { return ref; }
    return new URL(ref, base.href).href;
  }
  function isProxied(ref) {
    var rest;
    if (ref.indexOf(proxyOrigin + prefix) === 0) {
      rest = ref.slice(proxyOrigin.length + prefix.length);
    } else if (ref.indexOf(prefix) === 0) {
      rest = ref.slice(prefix.length);
    } else {
      return false;
    }
    try { rest = decodeURIComponent(rest); } catch (e) { return false; }
    return /^https?:\/\//i.test(rest);
  }
  function proxied(ref) {
    if (typeof ref !== "string" || ref.indexOf("data:") === 0) { return ref; }
    if (isProxied(ref)) { return ref; }
    try {
      return proxyOrigin + prefix + encodeURIComponent(resolve(ref));
    } catch (e) {
      return ref;
    }
  }
  var nativeFetch = window.fetch;
  if (nativeFetch) {
    window.fetch = function (input, init) {
      return nativeFetch.call(this, typeof input === "string" ? proxied(input) : input, init);
    };
  }
  if (window.XMLHttpRequest) {
    var nativeOpen = XMLHttpRequest.prototype.open;
    XMLHttpRequest.prototype.open = function (method, url) {
      var args = Array.prototype.slice.call(arguments);
      if (typeof url === "string") { args[1] = proxied(url); }
      return nativeOpen.apply(this, args);
    };
  }
  var nativeWindowOpen = window.open;
  window.open = function (url) {
    var args = Array.prototype.slice.call(arguments);
    if (typeof url === "string") { args[0] = proxied(url); }
    return nativeWindowOpen.apply(window, args);
  };
  var lastHref = base.href;
  try {
    Object.defineProperty(window.location, "href", {
      configurable: true,
      get: function () { return lastHref; },
      set: function (value) {
        lastHref = String(value);
        window.location.assign(proxied(lastHref));
      }
    });
  } catch (e) {}
})({{js .ProxyOrigin}}, {{js .Prefix}}, {{js .BaseURL}});
</script>`))

// Interceptor renders the client-side interceptor for rc. The script depends
// only on the proxy origin, the scheme prefix and the target URL.
func Interceptor(rc Context) (string, error) {
	data := struct {
		ProxyOrigin string
		Prefix      string
		BaseURL     string
	}{
		ProxyOrigin: rc.ProxyOrigin,
		Prefix:      rc.Scheme.Prefix(),
		BaseURL:     rc.Target.String(),
	}

	var buf bytes.Buffer
	if err := interceptorTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render interceptor: %w", err)
	}
	return buf.String(), nil
}

// jsString renders s as a JavaScript string literal. json.Marshal escapes
// <, > and &, so the literal cannot close the surrounding script element.
func jsString(s string) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
