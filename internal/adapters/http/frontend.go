package http

import (
	"net/http"
)

// frontendHTML is a small page for trying radius queries from a browser.
const frontendHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>BuildingRadar</title>
    <style>
        :root {
            --primary: #2563eb;
            --error: #dc2626;
            --bg: #f8fafc;
            --card: #ffffff;
            --text: #1e293b;
            --muted: #64748b;
            --border: #e2e8f0;
        }
        * { box-sizing: border-box; margin: 0; padding: 0; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            background: var(--bg);
            color: var(--text);
            padding: 1rem;
        }
        main { max-width: 720px; margin: 0 auto; }
        h1 { font-size: 1.4rem; margin-bottom: 1rem; }
        .card {
            background: var(--card);
            border: 1px solid var(--border);
            border-radius: 8px;
            padding: 1rem;
            margin-bottom: 1rem;
        }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(140px, 1fr)); gap: .75rem; }
        label { display: block; font-size: .8rem; color: var(--muted); margin-bottom: .25rem; }
        input {
            width: 100%;
            padding: .5rem;
            border: 1px solid var(--border);
            border-radius: 6px;
            font-size: 1rem;
        }
        button {
            margin-top: 1rem;
            padding: .6rem 1.2rem;
            border: 0;
            border-radius: 6px;
            background: var(--primary);
            color: #fff;
            font-size: 1rem;
            cursor: pointer;
        }
        button.secondary { background: var(--muted); }
        #error { color: var(--error); display: none; }
        #summary { color: var(--muted); font-size: .9rem; margin-bottom: .5rem; }
        table { width: 100%; border-collapse: collapse; font-size: .9rem; }
        th, td { text-align: left; padding: .35rem; border-bottom: 1px solid var(--border); vertical-align: top; }
        pre { white-space: pre-wrap; font-size: .8rem; }
    </style>
</head>
<body>
<main>
    <h1>BuildingRadar</h1>
    <form id="query" class="card">
        <div class="grid">
            <div><label for="lon">Longitude</label><input id="lon" type="number" step="any" required></div>
            <div><label for="lat">Latitude</label><input id="lat" type="number" step="any" required></div>
            <div><label for="radius">Radius (m)</label><input id="radius" type="number" step="any" min="0" value="250" required></div>
            <div><label for="limit">Limit</label><input id="limit" type="number" min="0" value="100"></div>
        </div>
        <button type="submit">Search</button>
        <button type="button" id="locate" class="secondary">My location</button>
    </form>
    <div class="card">
        <p id="error"></p>
        <p id="summary">No query yet.</p>
        <table>
            <thead><tr><th>Distance</th><th>Position</th><th>Properties</th></tr></thead>
            <tbody id="results"></tbody>
        </table>
    </div>
</main>
<script>
(function() {
    const form = document.getElementById('query');
    const errorEl = document.getElementById('error');
    const summary = document.getElementById('summary');
    const results = document.getElementById('results');
    const field = id => document.getElementById(id);

    field('locate').addEventListener('click', function() {
        if (!navigator.geolocation) return;
        navigator.geolocation.getCurrentPosition(function(pos) {
            field('lon').value = pos.coords.longitude.toFixed(6);
            field('lat').value = pos.coords.latitude.toFixed(6);
        });
    });

    form.addEventListener('submit', async function(e) {
        e.preventDefault();
        errorEl.style.display = 'none';
        const params = new URLSearchParams({
            lon: field('lon').value,
            lat: field('lat').value,
            radius: field('radius').value,
        });
        if (field('limit').value) params.set('limit', field('limit').value);

        const resp = await fetch('/api/v1/query?' + params.toString());
        const data = await resp.json();
        if (!resp.ok) {
            errorEl.textContent = data.message || data.error;
            errorEl.style.display = 'block';
            return;
        }

        summary.textContent = data.feature_count + ' features in ' + data.query_time_ms + ' ms' +
            (data.truncated ? ' (truncated)' : '') + (data.lazy ? ', chunk cache' : '');
        const features = data.features.slice().sort((a, b) => a.distance_meters - b.distance_meters);
        results.replaceChildren(...features.map(function(f) {
            const row = document.createElement('tr');
            const cells = [
                f.distance_meters.toFixed(1) + ' m',
                f.geometry.lon.toFixed(6) + ', ' + f.geometry.lat.toFixed(6),
            ];
            cells.forEach(function(text) {
                const td = document.createElement('td');
                td.textContent = text;
                row.appendChild(td);
            });
            const props = document.createElement('td');
            const pre = document.createElement('pre');
            pre.textContent = JSON.stringify(f.properties || {}, null, 1);
            props.appendChild(pre);
            row.appendChild(props);
            return row;
        }));
    });
})();
</script>
</body>
</html>
`

// handleFrontend serves the query page.
func (s *Server) handleFrontend(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(frontendHTML))
}
