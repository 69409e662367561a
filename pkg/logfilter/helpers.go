package logfilter

const helpersJS = `
(function(){
  function parseJSON(line) {
    try { return JSON.parse(line); } catch (e) { return null; }
  }

  function extract(line, re, group) {
    if (typeof line !== "string") return null;
    if (!(re instanceof RegExp)) return null;
    const m = re.exec(line);
    if (!m) return null;
    const idx = (typeof group === "number") ? group : 1;
    const v = m[idx];
    return (typeof v === "string") ? v : null;
  }

  function namedCapture(line, re) {
    if (typeof line !== "string") return null;
    if (!(re instanceof RegExp)) return null;
    const m = re.exec(line);
    if (!m || !m.groups) return null;
    const out = {};
    for (const k of Object.keys(m.groups)) out[k] = m.groups[k];
    return out;
  }

  function field(obj, path) {
    if (!obj || typeof path !== "string" || path === "") return null;
    const parts = path.split(".");
    let cur = obj;
    for (const p of parts) {
      if (cur == null) return null;
      cur = cur[p];
    }
    return (cur === undefined) ? null : cur;
  }

  globalThis.log = {
    parseJSON,
    extract,
    namedCapture,
    field,
  };
})();
`
